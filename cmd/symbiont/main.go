package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/symbiont/internal/options"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := buildRoot()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags map onto the SYMBIONT_* options.
type GlobalFlags struct {
	Path       string
	ConfigFile string
	LogLevel   string
	LogFormat  string
	LogFile    string
	// Options holds repeated --option KEY=VALUE pairs.
	Options []string
}

// options merges --option pairs with the dedicated flags; dedicated flags win.
func (g *GlobalFlags) options() *options.Options {
	cli := options.ParseKV(g.Options)
	for k, v := range map[string]string{
		options.PathKey:         g.Path,
		options.ConfigFileKey:   g.ConfigFile,
		options.LoggerLevelKey:  g.LogLevel,
		options.LoggerFormatKey: g.LogFormat,
		options.LogFileKey:      g.LogFile,
	} {
		if v != "" {
			cli[k] = v
		}
	}
	return options.New(cli)
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createSendCommand(globalFlags, &SendFlags{}),
		createProcessesCommand(globalFlags, &ProcessesFlags{}),
		createVersionCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "symbiont",
		Short: "Run a set of cooperating services from one config file",
		Long: `Symbiont builds every service listed in symbiont.config.json and runs
them together in one process. A supervisor service keeps a registry of
worker processes and answers control requests on a local TCP port.

Examples:
  symbiont run --path /srv/app
  symbiont run -c ./prod.json --option LOGGER_LEVEL=DEBUG
  symbiont send --action ping
  symbiont processes --status RUNNING`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.Path, "path", "p", "", "application directory (SYMBIONT_PATH)")
	root.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "config file (SYMBIONT_CONFIG_FILE)")
	root.PersistentFlags().StringArrayVar(&flags.Options, "option", nil, "set an option as KEY=VALUE, repeatable (e.g. PROCLIST_FILE_NAME=procs.db)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR or CRITICAL")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "", "text or json")
	root.PersistentFlags().StringVar(&flags.LogFile, "log-file", "", "write logs to a rotated file")
	return root
}
