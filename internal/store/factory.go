package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Builder opens a store for a DSN whose scheme it was registered under.
type Builder func(ctx context.Context, dsn string) (*Store, error)

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]Builder)
)

func init() {
	RegisterStoreType("sqlite", func(ctx context.Context, dsn string) (*Store, error) {
		return OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	})
	pg := func(ctx context.Context, dsn string) (*Store, error) { return OpenPostgres(ctx, dsn) }
	RegisterStoreType("postgres", pg)
	RegisterStoreType("postgresql", pg)
}

// RegisterStoreType registers a builder for DSNs starting with "<scheme>://".
func RegisterStoreType(scheme string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[strings.ToLower(scheme)] = b
}

// SupportedTypes lists the registered schemes.
func SupportedTypes() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewFromDSN selects a store implementation based on DSN.
// Supported:
//   - sqlite:  "sqlite://<path>" or a bare file path
//   - postgres: DSN starting with "postgres://" or "postgresql://"
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	scheme := "sqlite"
	if i := strings.Index(d, "://"); i > 0 {
		scheme = strings.ToLower(d[:i])
	}
	buildersMu.RLock()
	b, ok := builders[scheme]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported store type: %s (supported: %v)", scheme, SupportedTypes())
	}
	return b(ctx, d)
}

// Location resolves the registry DSN: an explicit DSN wins, otherwise
// <dir>/<fileName> with DefaultFileName when fileName is empty.
func Location(dsn, dir, fileName string) string {
	if strings.TrimSpace(dsn) != "" {
		return dsn
	}
	if fileName == "" {
		fileName = DefaultFileName
	}
	return filepath.Join(dir, fileName)
}
