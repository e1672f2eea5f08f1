// Package symbiont is the public API for embedding: register service
// constructors, then launch an application from options.
package symbiont

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/symbiont/internal/app"
	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/manager"
	"github.com/loykin/symbiont/internal/metrics"
	"github.com/loykin/symbiont/internal/options"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
	"github.com/loykin/symbiont/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Options = options.Options

type Config = config.Config

type ServiceConfig = config.ServiceConfig

type Scope = scope.Scope

type Logger = logger.Logger

type Interface = service.Interface

type Constructor = service.Constructor

type Module = service.Module

type ServiceInfo = manager.Info

type App = app.App

type Client = client.Client

type ClientConfig = client.Config

var (
	ErrConfigFileNotFound     = config.ErrConfigFileNotFound
	ErrMissingInterfaceConfig = service.ErrMissingInterfaceConfig
	ErrInterfaceImport        = service.ErrInterfaceImport
	ErrInterfaceAttribute     = service.ErrInterfaceAttributeMissing
	ErrNoStartEntryPoint      = manager.ErrNoStartEntryPoint
)

// NewOptions merges defaults, SYMBIONT_* environment variables and cli.
func NewOptions(cli map[string]string) *Options { return options.New(cli) }

// Register makes ctor available under locator ("module/path:Name").
func Register(locator string, ctor Constructor) { service.Register(locator, ctor) }

// RegisterModule adds every constructor in m under path.
func RegisterModule(path string, m Module) { service.RegisterModule(path, m) }

// Locators lists every registered service locator.
func Locators() []string { return service.Default().Locators() }

// NewApp prepares an application without starting it.
func NewApp(opts *Options) (*App, error) { return app.New(opts) }

// Launch builds and runs every configured service until ctx is cancelled.
func Launch(ctx context.Context, opts *Options) error { return app.Launch(ctx, opts) }

// Get returns the most recent value of type T visible from s.
func Get[T any](s *Scope) (T, bool) { return scope.Get[T](s) }

// NewClient returns a control-protocol client for a supervisor.
func NewClient(cfg ClientConfig) *Client { return client.New(cfg) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }
