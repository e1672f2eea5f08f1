// Package env expands ${VAR} references in configuration values.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

type Env struct {
	Var Var // overrides (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.env = base
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes an override.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Lookup returns the override for k, then the cached OS value.
func (e *Env) Lookup(k string) (string, bool) {
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	v, ok := e.env[k]
	return v, ok
}

// Expand replaces ${NAME} with its value. Unknown names are left as written
// and expansion is not recursive.
func (e *Env) Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[start+2 : start+2+end]
		b.WriteString(s[:start])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+3+end])
		}
		s = s[start+3+end:]
	}
}

// ExpandAny walks maps and slices decoded from JSON, YAML or TOML and
// expands every string it finds. Other values are returned unchanged.
func (e *Env) ExpandAny(v any) any {
	switch t := v.(type) {
	case string:
		return e.Expand(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = e.ExpandAny(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = e.ExpandAny(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = e.Expand(val)
		}
		return out
	default:
		return v
	}
}
