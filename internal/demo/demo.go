// Package demo holds two small services that show how services find each
// other through the scope.
package demo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cast"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
)

// Locators for the demo services.
const (
	HeartbeatLocator = "symbiont/demo:Heartbeat"
	GreeterLocator   = "symbiont/demo:Greeter"
)

const (
	IntervalKey  = "interval"
	HeartbeatKey = "heartbeat"
	GreetingKey  = "greeting"

	DefaultInterval = 5 * time.Second
)

var ErrNoHeartbeat = errors.New("greeter needs a heartbeat service built before it")

func init() {
	service.RegisterModule("symbiont/demo", service.Module{
		"Heartbeat": NewHeartbeat,
		"Greeter":   NewGreeter,
	})
}

// Heartbeat logs at a fixed interval until cancelled.
type Heartbeat struct {
	log      *logger.Logger
	interval time.Duration
	beats    atomic.Int64
}

func NewHeartbeat(s *scope.Scope) (service.Interface, error) {
	cfg, err := scope.Require[config.ServiceConfig](s)
	if err != nil {
		return nil, err
	}
	interval, err := parseInterval(cfg)
	if err != nil {
		return nil, err
	}
	return &Heartbeat{log: serviceLogger(s), interval: interval}, nil
}

// Beat reports how many ticks have elapsed.
func (h *Heartbeat) Beat() int64 { return h.beats.Load() }

func (h *Heartbeat) Start(ctx context.Context) error {
	h.log.Info("heartbeat started", "interval", h.interval)
	t := time.NewTicker(h.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n := h.beats.Add(1)
			h.log.Debug("beat", "count", n)
		}
	}
}

// Greeter periodically reports the heartbeat it depends on.
type Greeter struct {
	log      *logger.Logger
	interval time.Duration
	greeting string
	heart    *Heartbeat
}

func NewGreeter(s *scope.Scope) (service.Interface, error) {
	cfg, err := scope.Require[config.ServiceConfig](s)
	if err != nil {
		return nil, err
	}
	interval, err := parseInterval(cfg)
	if err != nil {
		return nil, err
	}
	var (
		heart *Heartbeat
		ok    bool
	)
	if name := cfg.String(HeartbeatKey, ""); name != "" {
		heart, ok = scope.Named[*Heartbeat](s, name)
	} else {
		heart, ok = scope.Get[*Heartbeat](s)
	}
	if !ok {
		return nil, ErrNoHeartbeat
	}
	return &Greeter{
		log:      serviceLogger(s),
		interval: interval,
		greeting: cfg.String(GreetingKey, "hello"),
		heart:    heart,
	}, nil
}

// Greet renders the current message.
func (g *Greeter) Greet() string {
	return fmt.Sprintf("%s (heartbeat %d)", g.greeting, g.heart.Beat())
}

func (g *Greeter) Start(ctx context.Context) error {
	g.log.Info("greeter started")
	t := time.NewTicker(g.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			g.log.Info("still running", "message", g.Greet())
		}
	}
}

func serviceLogger(s *scope.Scope) *logger.Logger {
	if l, ok := scope.Get[*logger.Logger](s); ok {
		return l
	}
	return logger.Discard()
}

// parseInterval accepts a duration string ("250ms") or a number of seconds.
func parseInterval(cfg config.ServiceConfig) (time.Duration, error) {
	raw, ok := cfg.Get(IntervalKey)
	if !ok || raw == nil {
		return DefaultInterval, nil
	}
	var d time.Duration
	if str, isStr := raw.(string); isStr {
		parsed, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("%s %q: %w", IntervalKey, str, err)
		}
		d = parsed
	} else {
		secs, err := cast.ToFloat64E(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", IntervalKey, err)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", IntervalKey, raw)
	}
	return d, nil
}
