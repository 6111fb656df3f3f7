// Package sqlite persists run records in an embedded SQLite file while serving
// reads from the in-memory store it hydrates on open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"watershed/internal/infra/persistence/memory"
	"watershed/pkg/domain"
)

var _ domain.RunStore = (*Store)(nil)

// DefaultPath is used when no path is configured.
const DefaultPath = "watershed.db"

// Store writes every saved run through to a `runs` table as a JSON payload.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) the database at path and loads every
// stored run.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		status TEXT NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT id, payload FROM runs`)
	if err != nil {
		return fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{Runs: map[string]domain.Run{}}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var run domain.Run
		if err := json.Unmarshal(payload, &run); err != nil {
			return fmt.Errorf("decode run %s: %w", id, err)
		}
		snapshot.Runs[id] = run
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate runs: %w", err)
	}
	s.ImportState(snapshot)
	return nil
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
		`INSERT INTO runs(id,started_at,status,payload) VALUES(?,?,?,?) ON CONFLICT(id) DO UPDATE SET started_at=excluded.started_at, status=excluded.status, payload=excluded.payload`,
		run.ID, run.StartedAt.UTC().Format(time.RFC3339Nano), string(run.Status), data); err != nil {
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
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	return s.Store.DeleteRun(ctx, id)
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
