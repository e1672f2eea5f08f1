// Package manager builds every configured service and runs them together.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/metrics"
	"github.com/loykin/symbiont/internal/scope"
	"github.com/loykin/symbiont/internal/service"
)

// ErrNoStartEntryPoint is returned when a service produced no runnable instance.
var ErrNoStartEntryPoint = errors.New("service has no start entry point")

// Provider yields the ordered service descriptors.
type Provider interface {
	Services() []config.ServiceConfig
}

// Manager owns one Service per descriptor and the instances they produce.
type Manager struct {
	// buildMu serialises Build; mu guards the fields below and is never held
	// while a constructor runs.
	buildMu  sync.Mutex
	mu       sync.RWMutex
	provider Provider
	root     *scope.Scope
	registry *service.Registry
	log      *logger.Logger

	services  []*service.Service
	order     []string
	instances map[string]service.Interface
	built     bool
}

// New returns a manager that constructs services from provider inside root.
// The manager adds itself to root so services can inspect it.
func New(provider Provider, root *scope.Scope, reg *service.Registry) *Manager {
	if root == nil {
		root = scope.New()
	}
	log, ok := scope.Get[*logger.Logger](root)
	if !ok {
		log = logger.Discard()
	}
	m := &Manager{
		provider:  provider,
		root:      root,
		registry:  reg,
		log:       log,
		instances: make(map[string]service.Interface),
	}
	root.Add(m)
	return m
}

// Resolve creates a Service per descriptor and resolves every locator.
// Nothing is constructed; the first resolution failure is returned.
func (m *Manager) Resolve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services != nil {
		return nil
	}
	descs := m.provider.Services()
	svcs := make([]*service.Service, 0, len(descs))
	for _, d := range descs {
		svc := service.New(d, m.root, m.registry)
		if _, err := svc.Interface(); err != nil {
			return err
		}
		svcs = append(svcs, svc)
	}
	m.services = svcs
	return nil
}

// Build constructs every service in provider order. A later descriptor with
// an already used name replaces the earlier instance.
func (m *Manager) Build() error {
	if err := m.Resolve(); err != nil {
		return err
	}
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	m.mu.RLock()
	built, svcs := m.built, m.services
	m.mu.RUnlock()
	if built {
		return nil
	}
	for _, svc := range svcs {
		inst, err := svc.CreateInterface()
		metrics.IncBuild(svc.Name(), err == nil)
		if err != nil {
			return err
		}
		m.publish(svc, inst)
	}
	m.mu.Lock()
	m.built = true
	m.mu.Unlock()
	return nil
}

// publish records a constructed instance so that constructors running later
// can already see it.
func (m *Manager) publish(svc *service.Service, inst service.Interface) {
	name := svc.Name()
	m.mu.Lock()
	_, dup := m.instances[name]
	if !dup {
		m.order = append(m.order, name)
	}
	m.instances[name] = inst
	m.mu.Unlock()
	if dup {
		m.log.Warn("duplicate service name, later definition replaces earlier one",
			"service", name, "interface", svc.Config().Interface)
	}
	m.log.Debug("service built", "service", name, "interface", svc.Config().Interface)
}

// Run starts every built instance concurrently and waits for all of them.
// A failing service does not cancel its siblings; the first error is returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	type entry struct {
		name string
		inst service.Interface
	}
	entries := make([]entry, 0, len(m.order))
	for _, name := range m.order {
		entries = append(entries, entry{name, m.instances[name]})
	}
	locators := make(map[string]string, len(m.services))
	for _, svc := range m.services {
		locators[svc.Name()] = svc.Config().Interface
	}
	m.mu.RUnlock()

	for _, e := range entries {
		if e.inst == nil {
			m.log.Critical("service cannot be started", "service", e.name, "interface", locators[e.name])
			return fmt.Errorf("%w: service %q (interface %q) produced no instance", ErrNoStartEntryPoint, e.name, locators[e.name])
		}
	}

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			done := metrics.ServiceStarted(e.name)
			m.log.Info("starting service", "service", e.name)
			err := e.inst.Start(ctx)
			done(err)
			if err != nil {
				m.log.Error("service failed", "service", e.name, "error", err)
				return fmt.Errorf("service %q: %w", e.name, err)
			}
			m.log.Info("service finished", "service", e.name)
			return nil
		})
	}
	return g.Wait()
}

// Start builds then runs all services.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Build(); err != nil {
		return err
	}
	return m.Run(ctx)
}

// Names returns the built service names in start order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// Instance returns the built instance for name.
func (m *Manager) Instance(name string) (service.Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

// Info describes a built service.
type Info struct {
	Name      string `json:"name"`
	Interface string `json:"interface"`
	Type      string `json:"type"`
}

// Describe lists the built services with their locator and concrete type.
func (m *Manager) Describe() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	locators := make(map[string]string, len(m.services))
	for _, svc := range m.services {
		locators[svc.Name()] = svc.Config().Interface
	}
	out := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, Info{Name: name, Interface: locators[name], Type: fmt.Sprintf("%T", m.instances[name])})
	}
	return out
}
