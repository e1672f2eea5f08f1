package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/symbiont/internal/scope"
)

// Interface is the capability every service implementation provides.
// Start blocks until the service finishes or ctx is cancelled.
type Interface interface {
	Start(ctx context.Context) error
}

// Constructor builds an implementation, resolving its dependencies from s.
type Constructor func(s *scope.Scope) (Interface, error)

// Module maps class names to constructors.
type Module map[string]Constructor

// Registry maps module paths to modules. Locators take the form
// "module/path:ClassName".
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Default is the process-wide registry that built-in implementations
// register into from init.
func Default() *Registry { return defaultRegistry }

// RegisterModule adds the constructors in m under path in the default registry.
func RegisterModule(path string, m Module) { defaultRegistry.RegisterModule(path, m) }

// Register adds one constructor to the default registry. It panics on a
// malformed locator since registration happens from init.
func Register(locator string, ctor Constructor) {
	if err := defaultRegistry.Register(locator, ctor); err != nil {
		panic(err)
	}
}

// RegisterModule merges m into the module at path.
func (r *Registry) RegisterModule(path string, m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst, ok := r.modules[path]
	if !ok {
		dst = make(Module, len(m))
		r.modules[path] = dst
	}
	for name, ctor := range m {
		dst[name] = ctor
	}
}

// Register adds ctor under locator.
func (r *Registry) Register(locator string, ctor Constructor) error {
	path, class, err := SplitLocator(locator)
	if err != nil {
		return err
	}
	r.RegisterModule(path, Module{class: ctor})
	return nil
}

// Lookup resolves locator to a constructor.
func (r *Registry) Lookup(locator string) (Constructor, error) {
	path, class, err := SplitLocator(locator)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.modules[path]
	if !ok {
		return nil, fmt.Errorf("%w: no module %q", ErrInterfaceImport, path)
	}
	ctor, ok := mod[class]
	if !ok || ctor == nil {
		return nil, fmt.Errorf("%w: module %q has no %q", ErrInterfaceAttributeMissing, path, class)
	}
	return ctor, nil
}

// Locators lists every registered locator, sorted.
func (r *Registry) Locators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for path, mod := range r.modules {
		for class := range mod {
			out = append(out, path+":"+class)
		}
	}
	sort.Strings(out)
	return out
}

// SplitLocator splits "module/path:ClassName" on its last colon.
func SplitLocator(locator string) (path, class string, err error) {
	i := strings.LastIndexByte(locator, ':')
	if i <= 0 || i == len(locator)-1 {
		return "", "", fmt.Errorf("%w: malformed locator %q, want \"module:Class\"", ErrInterfaceImport, locator)
	}
	return locator[:i], locator[i+1:], nil
}
