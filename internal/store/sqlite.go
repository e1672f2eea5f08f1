package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:   "sqlite",
	rebind: func(q string) string { return q },
}

// OpenSQLite opens the registry file at path (modernc.org/sqlite, CGO-free).
// The schema is created only when the file does not exist yet; ":memory:"
// is always created fresh.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	init := isMemory(p)
	if !init {
		if _, err := os.Stat(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
			init = true
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", p, err)
	}
	// one writer; also keeps an in-memory database alive across calls
	db.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=3000;")
	return open(ctx, db, sqliteDialect, init)
}

func isMemory(p string) bool {
	return p == ":memory:" || strings.Contains(p, "mode=memory")
}
