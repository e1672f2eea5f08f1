package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{name: "postgres", rebind: rebindDollar}

func postgresTablesExist(ctx context.Context, db *sql.DB) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name IN ('processes', 'metadata')`).Scan(&n)
	return n == 2, err
}

// OpenPostgres opens the registry in a PostgreSQL database through the pgx
// stdlib driver. Tables are created when they are not present.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ok, err := postgresTablesExist(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("inspect schema: %w", err)
	}
	return open(ctx, db, postgresDialect, !ok)
}

// rebindDollar turns '?' placeholders into $1, $2, ...
func rebindDollar(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
