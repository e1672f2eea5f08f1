package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/symbiont/internal/app"
	"github.com/loykin/symbiont/internal/service"
	"github.com/loykin/symbiont/internal/store"
	"github.com/loykin/symbiont/pkg/client"
)

// ConnFlags locate a running supervisor.
type ConnFlags struct {
	Host      string
	Port      int
	Wait      time.Duration
	Reconnect int
	Timeout   time.Duration
}

// SendFlags holds flags for the send command.
type SendFlags struct {
	ConnFlags
	Action  string
	Payload string
}

// ProcessesFlags holds flags for the processes command.
type ProcessesFlags struct {
	ConnFlags
	Status string
}

func addConnFlags(cmd *cobra.Command, f *ConnFlags) {
	cmd.Flags().StringVar(&f.Host, "host", "", "supervisor host (default from discovery file)")
	cmd.Flags().IntVar(&f.Port, "port", 0, "supervisor port (default from discovery file)")
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "wait up to this long for the supervisor to come up")
	cmd.Flags().IntVar(&f.Reconnect, "reconnect", client.DefaultReconnect, "reconnect attempts on dropped connections")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 10*time.Second, "request timeout")
}

func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build and start every configured service",
		Long: `Build and start every service in the config file. Interrupt (Ctrl-C) stops
all services and exits cleanly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(globalFlags.options())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			a.Farewell = cmd.ErrOrStderr()
			return a.Run(cmd.Context())
		},
	}
}

func createSendCommand(globalFlags *GlobalFlags, flags *SendFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one control request to the supervisor",
		Long: `Send one request to the supervisor and print the JSON payload it returns.

Examples:
  symbiont send --action ping
  symbiont send --action register --payload '{"service":"web","pid":4242}'
  symbiont send --action list --port 8000 --wait 5s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload any = map[string]any{}
			if strings.TrimSpace(flags.Payload) != "" {
				if err := json.Unmarshal([]byte(flags.Payload), &payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			c, err := dial(cmd, globalFlags, flags.ConnFlags)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := contextWithTimeout(cmd, flags.Timeout)
			defer cancel()
			raw, err := c.SendWithReconnect(ctx, flags.Action, payload, flags.Reconnect)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
	cmd.Flags().StringVar(&flags.Action, "action", "", "action name (required)")
	cmd.Flags().StringVar(&flags.Payload, "payload", "", "JSON payload (default {})")
	addConnFlags(cmd, &flags.ConnFlags)
	if err := cmd.MarkFlagRequired("action"); err != nil {
		panic(err)
	}
	return cmd
}

func createProcessesCommand(globalFlags *GlobalFlags, flags *ProcessesFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List registered worker processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd, globalFlags, flags.ConnFlags)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			ctx, cancel := contextWithTimeout(cmd, flags.Timeout)
			defer cancel()
			procs, err := c.List(ctx, flags.Status)
			if err != nil {
				return err
			}
			printProcesses(cmd.OutOrStdout(), procs)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Status, "status", "", "only show processes with this status")
	addConnFlags(cmd, &flags.ConnFlags)
	return cmd
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, registry backends and built-in services",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "symbiont %s\n", version)
			_, _ = fmt.Fprintf(out, "registry schema %d, backends: %s\n", store.SchemaVersion, strings.Join(store.SupportedTypes(), ", "))
			_, _ = fmt.Fprintln(out, "services:")
			for _, loc := range service.Default().Locators() {
				_, _ = fmt.Fprintf(out, "  %s\n", loc)
			}
		},
	}
}
