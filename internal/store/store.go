// Package store is the durable process registry: one row per supervised
// process plus a metadata table carrying the schema version.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/loykin/symbiont/internal/metrics"
)

// SchemaVersion is the newest DB_VERSION this code understands.
const SchemaVersion = 0

// DefaultFileName is the registry file name under the options PATH.
const DefaultFileName = "symbiont_proclist"

const versionKey = "DB_VERSION"

var (
	ErrNotFound       = errors.New("process not found")
	ErrDuplicatePID   = errors.New("process with this pid already registered")
	ErrProcessDeleted = errors.New("process has been deleted")
	ErrInvalidStatus  = errors.New("invalid process status")
	ErrSchemaTooNew   = errors.New("registry schema is newer than supported")
)

// Status is persisted as its integer value.
type Status int

const (
	StatusAny      Status = 0
	StatusRunning  Status = 1
	StatusStarting Status = 2
	StatusStopped  Status = 3
	StatusStopping Status = 4
	StatusDeleted  Status = 5
)

var statusNames = map[Status]string{
	StatusAny:      "ANY",
	StatusRunning:  "RUNNING",
	StatusStarting: "STARTING",
	StatusStopped:  "STOPPED",
	StatusStopping: "STOPPING",
	StatusDeleted:  "DELETED",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Valid reports whether s is a concrete record status.
func (s Status) Valid() bool { return s >= StatusRunning && s <= StatusDeleted }

// ParseStatus accepts a status name (any case) or its integer value.
// The empty string parses as StatusAny.
func ParseStatus(s string) (Status, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return StatusAny, nil
	}
	if n, err := strconv.Atoi(t); err == nil {
		st := Status(n)
		if st == StatusAny || st.Valid() {
			return st, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, n)
	}
	for st, name := range statusNames {
		if name == t {
			return st, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Record is a point-in-time copy of a process row.
type Record struct {
	Service string `json:"service"`
	PID     int    `json:"pid"`
	Port    int    `json:"port"`
	Status  Status `json:"status"`
}

// ChangeKind names a registry mutation.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeStatus ChangeKind = "status"
	ChangeDelete ChangeKind = "delete"
)

// Change is delivered to hooks after a mutation has been committed.
type Change struct {
	Kind   ChangeKind
	From   Status
	Record Record
	At     time.Time
}

// Hook observes committed changes. Hooks run synchronously on the mutating goroutine.
type Hook func(ctx context.Context, c Change)

// Store is the process registry backed by a SQL database.
type Store struct {
	db *sql.DB
	d  dialect

	mu    sync.RWMutex
	hooks []Hook
}

// dialect captures the differences between the supported databases.
type dialect struct {
	name string
	// rebind rewrites '?' placeholders
	rebind func(q string) string
}

var schema = []string{
	`CREATE TABLE Processes(service VARCHAR(255), pid INTEGER, port INTEGER, status INTEGER)`,
	`CREATE TABLE Metadata(key VARCHAR(64), value VARCHAR(256))`,
}

// open finishes opening a store on db: the schema is created when init is
// true, then the stored version is checked.
func open(ctx context.Context, db *sql.DB, d dialect, init bool) (*Store, error) {
	s := &Store{db: db, d: d}
	if init {
		if err := s.initialize(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	v, err := s.Version(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if v > SchemaVersion {
		_ = db.Close()
		return nil, fmt.Errorf("%w: stored %d, supported %d", ErrSchemaTooNew, v, SchemaVersion)
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range schema {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO Metadata(key, value) VALUES(?, ?)`),
		versionKey, strconv.Itoa(SchemaVersion)); err != nil {
		return fmt.Errorf("seed metadata: %w", err)
	}
	return tx.Commit()
}

// Dialect names the backing database.
func (s *Store) Dialect() string { return s.d.name }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// OnChange registers h to be called after every committed mutation.
func (s *Store) OnChange(h Hook) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

func (s *Store) notify(ctx context.Context, c Change) {
	c.At = time.Now().UTC()
	s.mu.RLock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, c)
	}
}

// Version returns the schema version recorded in Metadata.
func (s *Store) Version(ctx context.Context) (int, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT value FROM Metadata WHERE key = ?`), versionKey).Scan(&raw)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return v, nil
}

// AddProcess inserts a record and returns a handle to it.
func (s *Store) AddProcess(ctx context.Context, service string, pid, port int, status Status) (*Process, error) {
	if !status.Valid() || status == StatusDeleted {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	var n int
	if err := tx.QueryRowContext(ctx, s.d.rebind(`SELECT COUNT(*) FROM Processes WHERE pid = ?`), pid).Scan(&n); err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %d", ErrDuplicatePID, pid)
	}
	if _, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO Processes(service, pid, port, status) VALUES(?, ?, ?, ?)`),
		service, pid, port, int(status)); err != nil {
		return nil, fmt.Errorf("insert process: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	p := &Process{store: s, service: service, pid: pid, port: port, status: status}
	metrics.RecordStatusTransition(service, "NONE", status.String())
	s.notify(ctx, Change{Kind: ChangeAdd, Record: p.Snapshot()})
	return p, nil
}

// GetProcesses returns handles for every stored row, or only those with
// status when it is not StatusAny. Rows come back in insertion order.
func (s *Store) GetProcesses(ctx context.Context, status Status) ([]*Process, error) {
	q := `SELECT service, pid, port, status FROM Processes`
	var args []any
	if status != StatusAny {
		q += ` WHERE status = ?`
		args = append(args, int(status))
	}
	rows, err := s.db.QueryContext(ctx, s.d.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]*Process, 0)
	for rows.Next() {
		p := &Process{store: s}
		var st int
		if err := rows.Scan(&p.service, &p.pid, &p.port, &st); err != nil {
			return nil, err
		}
		p.status = Status(st)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProcess returns the handle for pid.
func (s *Store) GetProcess(ctx context.Context, pid int) (*Process, error) {
	p := &Process{store: s}
	var st int
	err := s.db.QueryRowContext(ctx, s.d.rebind(`SELECT service, pid, port, status FROM Processes WHERE pid = ?`), pid).
		Scan(&p.service, &p.pid, &p.port, &st)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pid %d", ErrNotFound, pid)
	}
	if err != nil {
		return nil, err
	}
	p.status = Status(st)
	return p, nil
}

// Ports returns the ports held by stored rows.
func (s *Store) Ports(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT port FROM Processes`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var port sql.NullInt64
		if err := rows.Scan(&port); err != nil {
			return nil, err
		}
		if port.Valid {
			out[int(port.Int64)] = true
		}
	}
	return out, rows.Err()
}

// Process is a handle on one registry row. Status changes are written to
// the database before the handle is updated. After Delete the handle stays
// readable with StatusDeleted and rejects further mutation.
type Process struct {
	store *Store

	mu      sync.Mutex
	service string
	pid     int
	port    int
	status  Status
}

func (p *Process) Service() string { return p.service }
func (p *Process) PID() int        { return p.pid }
func (p *Process) Port() int       { return p.port }

func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Snapshot copies the handle's current values.
func (p *Process) Snapshot() Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Record{Service: p.service, PID: p.pid, Port: p.port, Status: p.status}
}

// SetStatus persists st and then updates the handle. Setting StatusDeleted
// is the same as Delete.
func (p *Process) SetStatus(ctx context.Context, st Status) error {
	if st == StatusDeleted {
		return p.Delete(ctx)
	}
	if !st.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, st)
	}
	p.mu.Lock()
	if p.status == StatusDeleted {
		p.mu.Unlock()
		return fmt.Errorf("%w: pid %d", ErrProcessDeleted, p.pid)
	}
	from := p.status
	s := p.store
	if _, err := s.db.ExecContext(ctx, s.d.rebind(`UPDATE Processes SET status = ? WHERE pid = ?`), int(st), p.pid); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("update status: %w", err)
	}
	p.status = st
	rec := Record{Service: p.service, PID: p.pid, Port: p.port, Status: st}
	p.mu.Unlock()

	metrics.RecordStatusTransition(rec.Service, from.String(), st.String())
	s.notify(ctx, Change{Kind: ChangeStatus, From: from, Record: rec})
	return nil
}

// Delete removes the row and marks the handle deleted.
func (p *Process) Delete(ctx context.Context) error {
	p.mu.Lock()
	if p.status == StatusDeleted {
		p.mu.Unlock()
		return fmt.Errorf("%w: pid %d", ErrProcessDeleted, p.pid)
	}
	from := p.status
	s := p.store
	if _, err := s.db.ExecContext(ctx, s.d.rebind(`DELETE FROM Processes WHERE pid = ?`), p.pid); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("delete process: %w", err)
	}
	p.status = StatusDeleted
	rec := Record{Service: p.service, PID: p.pid, Port: p.port, Status: StatusDeleted}
	p.mu.Unlock()

	metrics.RecordStatusTransition(rec.Service, from.String(), StatusDeleted.String())
	s.notify(ctx, Change{Kind: ChangeDelete, From: from, Record: rec})
	return nil
}
