// Package blob is the entry point to object storage. Callers depend on the
// Store interface and obtain a backend through Open or the constructors here;
// only this package imports the backend implementations.
package blob

import "watershed/internal/blob/core"

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrUnsupported = core.ErrUnsupported
)
