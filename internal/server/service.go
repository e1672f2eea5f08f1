package server

import (
	"context"
	stdtls "crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/metrics"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
	itls "github.com/loykin/symbiont/internal/tls"
)

// Locator selects the status API in config.
const Locator = "symbiont/ext/http:StatusAPI"

// Setting keys and defaults.
const (
	ListenKey     = "listen"
	BasePathKey   = "base_path"
	TLSKey        = "tls"
	DefaultListen = "127.0.0.1:8080"
)

const shutdownGrace = 5 * time.Second

func init() {
	service.Register(Locator, New)
}

// StatusAPI serves Router over HTTP for the lifetime of the application.
type StatusAPI struct {
	listen string
	router *Router
	log    *logger.Logger
	tls    *stdtls.Config
}

// New builds the status API from the scope. The router reads the manager and
// registry from the parent scope, where they live alongside the other services.
func New(s *scope.Scope) (service.Interface, error) {
	cfg, err := scope.Require[config.ServiceConfig](s)
	if err != nil {
		return nil, err
	}
	log, ok := scope.Get[*logger.Logger](s)
	if !ok {
		log = logger.Discard()
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}
	raw, _ := cfg.Get(TLSKey)
	tc, err := itls.Decode(raw)
	if err != nil {
		return nil, err
	}
	tlsCfg, err := itls.Setup(tc)
	if err != nil {
		return nil, fmt.Errorf("status api: %w", err)
	}
	return &StatusAPI{
		listen: cfg.String(ListenKey, DefaultListen),
		router: NewRouter(s, cfg.String(BasePathKey, ""), nil),
		log:    log,
		tls:    tlsCfg,
	}, nil
}

// Addr is the configured listen address.
func (a *StatusAPI) Addr() string { return a.listen }

// TLS reports whether the API serves HTTPS.
func (a *StatusAPI) TLS() bool { return a.tls != nil }

// Router returns the handler set.
func (a *StatusAPI) Router() *Router { return a.router }

// Start listens on the configured address and serves until ctx is cancelled.
func (a *StatusAPI) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.listen)
	if err != nil {
		return fmt.Errorf("status api listen %s: %w", a.listen, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and shuts it down gracefully when ctx ends.
func (a *StatusAPI) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if a.tls != nil {
		ln = stdtls.NewListener(ln, a.tls)
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.log.Info("status api listening", "addr", ln.Addr().String(), "tls", a.tls != nil)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
