// Package service resolves a configured service to its implementation and
// constructs it inside its own dependency scope.
package service

import (
	"fmt"
	"sync"

	"github.com/loykin/symbiont/internal/config"
	"github.com/loykin/symbiont/internal/logger"
	"github.com/loykin/symbiont/internal/scope"
)

// Service pairs a descriptor with its lazily resolved constructor.
type Service struct {
	cfg      config.ServiceConfig
	parent   *scope.Scope
	registry *Registry

	once sync.Once
	ctor Constructor
	err  error
}

// New creates a Service for cfg. parent is the ambient scope the service
// branches from; a nil registry means the default one.
func New(cfg config.ServiceConfig, parent *scope.Scope, reg *Registry) *Service {
	if reg == nil {
		reg = defaultRegistry
	}
	if parent == nil {
		parent = scope.New()
	}
	return &Service{cfg: cfg, parent: parent, registry: reg}
}

func (s *Service) Name() string                 { return s.cfg.Name }
func (s *Service) Config() config.ServiceConfig { return s.cfg }

// Interface resolves the configured locator once and caches the outcome.
func (s *Service) Interface() (Constructor, error) {
	s.once.Do(func() {
		if !s.cfg.HasInterface() {
			s.err = &ResolveError{Service: s.cfg.Name, Err: ErrMissingInterfaceConfig}
			return
		}
		ctor, err := s.registry.Lookup(s.cfg.Interface)
		if err != nil {
			s.err = &ResolveError{Service: s.cfg.Name, Locator: s.cfg.Interface, Err: err}
			return
		}
		s.ctor = ctor
	})
	return s.ctor, s.err
}

// CreateInterface constructs the implementation. The descriptor and a
// service logger are visible to the constructor only; the instance itself is
// added to the parent scope by type and by service name.
func (s *Service) CreateInterface() (Interface, error) {
	ctor, err := s.Interface()
	if err != nil {
		return nil, err
	}
	child := s.parent.Branch()
	child.Add(s.cfg)

	base, ok := scope.Get[*logger.Logger](s.parent)
	if !ok {
		base = logger.Discard()
	}
	log, err := base.Child(s.cfg.Name, s.cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", s.cfg.Name, err)
	}
	child.Add(log)

	inst, err := ctor(child)
	if err != nil {
		return nil, fmt.Errorf("service %q: construct %s: %w", s.cfg.Name, s.cfg.Interface, err)
	}
	if inst != nil {
		s.parent.AddNamed(s.cfg.Name, inst)
	}
	return inst, nil
}
