package core

import (
	"context"
	"fmt"
	"os"

	"watershed/internal/infra/persistence/memory"
	"watershed/internal/infra/persistence/postgres"
	"watershed/internal/infra/persistence/sqlite"
	"watershed/pkg/domain"
)

// StorageDriver identifies a run store backend.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-process only
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables read by OpenRunStore for unset options.
const (
	EnvStorageDriver = "WATERSHED_STORAGE_DRIVER"
	EnvSQLitePath    = "WATERSHED_SQLITE_PATH"
	EnvPostgresDSN   = "WATERSHED_POSTGRES_DSN"
)

// StorageOptions selects and configures a run store. Empty fields fall back to
// the environment:
//
//	WATERSHED_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	WATERSHED_SQLITE_PATH: sqlite file (default ./watershed.db)
//	WATERSHED_POSTGRES_DSN: postgres DSN when driver=postgres
type StorageOptions struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

func (o StorageOptions) withEnv() StorageOptions {
	if o.Driver == "" {
		o.Driver = StorageDriver(os.Getenv(EnvStorageDriver))
	}
	if o.Driver == "" {
		o.Driver = StorageSQLite
	}
	if o.SQLitePath == "" {
		o.SQLitePath = os.Getenv(EnvSQLitePath)
	}
	if o.PostgresDSN == "" {
		o.PostgresDSN = os.Getenv(EnvPostgresDSN)
	}
	return o
}

// OpenRunStore opens the run store described by opts.
func OpenRunStore(ctx context.Context, opts StorageOptions) (domain.RunStore, error) {
	opts = opts.withEnv()
	switch opts.Driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(opts.SQLitePath)
	case StoragePostgres:
		return postgres.NewStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
