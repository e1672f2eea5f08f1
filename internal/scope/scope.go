// Package scope is a small hierarchical dependency container. Lookups walk
// the local entries newest first and fall back to the parent chain.
package scope

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Require when no entry satisfies the lookup.
var ErrNotFound = errors.New("not found in scope")

type entry struct {
	name  string
	value any
}

// Scope holds values added by the code that owns it. A branched scope sees
// its parent's values; the parent never sees the child's.
type Scope struct {
	mu      sync.RWMutex
	parent  *Scope
	entries []entry
}

// New returns an empty root scope.
func New() *Scope { return &Scope{} }

// Branch returns a child scope chained to s.
func (s *Scope) Branch() *Scope { return &Scope{parent: s} }

// Parent returns the enclosing scope, nil for a root.
func (s *Scope) Parent() *Scope { return s.parent }

// Add registers v for lookup by type.
func (s *Scope) Add(v any) { s.AddNamed("", v) }

// AddNamed registers v for lookup by type and by name.
func (s *Scope) AddNamed(name string, v any) {
	if v == nil {
		return
	}
	s.mu.Lock()
	s.entries = append(s.entries, entry{name: name, value: v})
	s.mu.Unlock()
}

// Len is the number of local entries.
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Scope) find(match func(entry) bool) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		for i := len(cur.entries) - 1; i >= 0; i-- {
			if match(cur.entries[i]) {
				v := cur.entries[i].value
				cur.mu.RUnlock()
				return v, true
			}
		}
		cur.mu.RUnlock()
	}
	return nil, false
}

// Get returns the most recently added value assignable to T.
func Get[T any](s *Scope) (T, bool) {
	v, ok := s.find(func(e entry) bool {
		_, ok := e.value.(T)
		return ok
	})
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Named returns the value registered under name if it is a T.
func Named[T any](s *Scope, name string) (T, bool) {
	v, ok := s.find(func(e entry) bool {
		if e.name != name {
			return false
		}
		_, ok := e.value.(T)
		return ok
	})
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Require is Get that reports a missing value as ErrNotFound.
func Require[T any](s *Scope) (T, error) {
	v, ok := Get[T](s)
	if !ok {
		return v, fmt.Errorf("%w: %T", ErrNotFound, (*T)(nil))
	}
	return v, nil
}

// Provide returns the T in scope or constructs one with factory and adds
// it to s.
func Provide[T any](s *Scope, factory func(*Scope) (T, error)) (T, error) {
	if v, ok := Get[T](s); ok {
		return v, nil
	}
	v, err := factory(s)
	if err != nil {
		return v, err
	}
	s.Add(v)
	return v, nil
}
