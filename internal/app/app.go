// Package app wires options, logging, configuration and the service manager
// into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/manager"
	"github.com/loykin/symbiont/internal/metrics"
	"github.com/loykin/symbiont/internal/options"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"

	// built-in services register themselves
	_ "github.com/loykin/symbiont/internal/demo"
	_ "github.com/loykin/symbiont/internal/server"
	_ "github.com/loykin/symbiont/internal/supervisor"
)

// App is one configured run.
type App struct {
	ID      string
	Options *options.Options
	Logger  *logger.Logger
	Config  *config.Config
	Scope   *scope.Scope
	Manager *manager.Manager
	// Farewell receives "Goodbye!" after an interrupt, whatever the log level.
	Farewell io.Writer
}

// New prepares an App without starting anything.
func New(opts *options.Options) (*App, error) {
	if opts == nil {
		opts = options.New(nil)
	}
	log, err := NewLogger(opts)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	id := uuid.NewString()

	path := config.Locate("", opts)
	cfg, err := config.Load(path)
	if err != nil {
		log.Critical("could not load configuration", "run", id, "path", path, "error", err)
		_ = log.Close()
		return nil, err
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	root := scope.New()
	root.Add(opts)
	root.Add(log)
	root.Add(cfg)
	root.Add(service.Default())

	a := &App{ID: id, Options: opts, Logger: log, Config: cfg, Scope: root, Farewell: os.Stderr}
	a.Manager = manager.New(cfg, root, service.Default())
	return a, nil
}

// NewLogger builds the root logger from LOGGER_* and LOG_FILE options.
func NewLogger(opts *options.Options) (*logger.Logger, error) {
	format := logger.Format(opts.Get(options.LoggerFormatKey, string(logger.FormatText)))
	file := opts.Get(options.LogFileKey, "")
	return logger.New(logger.Config{
		Name: opts.Get(options.LoggerNameKey, logger.DefaultName),
		Slog: logger.SlogConfig{
			Level:      opts.Get(options.LoggerLevelKey, "INFO"),
			Format:     format,
			Color:      format == logger.FormatText && file == "" && isTerminal(os.Stderr),
			TimeStamps: true,
		},
		File: logger.FileConfig{Path: file},
	})
}

func isTerminal(f *os.File) bool {
	st, err := f.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

// Run builds and starts every service. Cancelling ctx is a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	a.Logger.Info("starting", "run", a.ID, "config", a.Config.Path(), "services", len(a.Config.Services()))
	err := a.Manager.Start(ctx)
	if ctx.Err() != nil {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.Logger.Warn("service error during shutdown", "run", a.ID, "error", err)
		}
		a.Logger.Info("shutdown complete", "run", a.ID)
		if a.Farewell != nil {
			_, _ = fmt.Fprintln(a.Farewell, "Goodbye!")
		}
		return nil
	}
	if err != nil {
		a.Logger.Critical("run failed", "run", a.ID, "error", err)
		return err
	}
	a.Logger.Info("all services finished", "run", a.ID)
	return nil
}

// Close releases the log file.
func (a *App) Close() error { return a.Logger.Close() }

// Launch is New followed by Run.
func Launch(ctx context.Context, opts *options.Options) error {
	a, err := New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return a.Run(ctx)
}
