// Package postgres persists run records in PostgreSQL (JSONB payloads) using
// the pgx database/sql driver, serving reads from an in-memory working set.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"watershed/internal/infra/persistence/memory"
	"watershed/pkg/domain"
)

var _ domain.RunStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/watershed?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store writes runs through to Postgres and keeps a hydrated memory.Store.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens the database at dsn (defaultDSN when empty), ensures the
// runs table exists and loads every stored run.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureRunsTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func ensureRunsTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure runs table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, payload FROM runs`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Runs: map[string]domain.Run{}}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan run: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var run domain.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode run %s: %w", id, err)
		}
		snapshot.Runs[id] = run
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate runs: %w", err)
	}
	return snapshot, nil
}

// SaveRun upserts the run row, then updates the in-memory view.
func (s *Store) SaveRun(ctx context.Context, run domain.Run) error {
	if run.ID == "" {
		return fmt.Errorf("save run: id required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id,started_at,status,payload) VALUES($1,$2,$3,$4) ON CONFLICT(id) DO UPDATE SET started_at=EXCLUDED.started_at, status=EXCLUDED.status, payload=EXCLUDED.payload`,
		run.ID, run.StartedAt.UTC(), string(run.Status), data); err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return s.Store.SaveRun(ctx, run)
}

// DeleteRun removes the row and the in-memory copy.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Store.GetRun(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return s.Store.DeleteRun(ctx, id)
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
