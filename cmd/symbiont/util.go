package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/symbiont/internal/supervisor"
	"github.com/loykin/symbiont/pkg/client"
)

// dial builds a client from explicit flags or the discovery file under PATH.
func dial(cmd *cobra.Command, globalFlags *GlobalFlags, f ConnFlags) (*client.Client, error) {
	cfg := client.DefaultConfig()
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.Port > 0 {
		cfg.Port = f.Port
		return client.New(cfg), nil
	}
	path := filepath.Join(globalFlags.options().Path(), supervisor.DiscoveryFileName)
	var (
		d   supervisor.Discovery
		err error
	)
	if f.Wait > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), f.Wait)
		defer cancel()
		d, err = supervisor.WaitForDiscovery(ctx, path)
	} else {
		d, err = supervisor.ReadDiscovery(path)
	}
	if err != nil {
		return nil, fmt.Errorf("locate supervisor (pass --port or start one with `symbiont run`): %w", err)
	}
	if f.Host == "" && d.Host != "" {
		cfg.Host = d.Host
	}
	cfg.Port = d.Port
	return client.New(cfg), nil
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func printProcesses(w io.Writer, procs []client.ProcessInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERVICE\tPID\tPORT\tSTATUS")
	for _, p := range procs {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.Service, p.PID, p.Port, p.Status)
	}
	_ = tw.Flush()
}
