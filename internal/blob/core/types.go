// Package core defines the object store contract shared by the blob
// backends. DEM tiles are read through it and run artifacts written to it.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory (default)
	DriverS3         Driver = "s3"     // S3 or MinIO bucket
	DriverMemory     Driver = "memory" // process memory
)

// PutOptions are optional attributes stored with an object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures PresignURL. Only GET is supported.
type SignedURLOptions struct {
	Method string
	Expiry time.Duration // default 15m
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a flat key/value object store with S3 semantics: keys are
// slash-separated paths, writes are create-only and List is key ordered.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrNotFound is wrapped by Get and Head for missing keys.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is wrapped by Put when the key is already taken.
	ErrExists = errors.New("blob: already exists")
	// ErrUnsupported is returned for capabilities a backend lacks.
	ErrUnsupported = errors.New("blob: unsupported operation")
)

// CloneMetadata copies a metadata map, keeping nil as nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
