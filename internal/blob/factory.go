package blob

import (
	"context"
	"fmt"
	"os"
)

// Environment variables read by Open.
const (
	EnvDriver = "WATERSHED_BLOB_DRIVER"
	EnvFSRoot = "WATERSHED_BLOB_FS_ROOT"
)

// Options selects a backend. Empty fields fall back to the environment.
//
//	WATERSHED_BLOB_DRIVER: fs|s3|memory (default fs)
//	WATERSHED_BLOB_FS_ROOT: root directory when driver=fs (default ./blobdata)
//	WATERSHED_BLOB_S3_*: see OpenS3FromEnv
type Options struct {
	Driver Driver
	FSRoot string
}

// Open returns the backend described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.Driver == "" {
		opts.Driver = Driver(os.Getenv(EnvDriver))
	}
	if opts.Driver == "" {
		opts.Driver = DriverFilesystem
	}
	switch opts.Driver {
	case DriverFilesystem:
		root := opts.FSRoot
		if root == "" {
			root = os.Getenv(EnvFSRoot)
		}
		return NewFilesystem(root)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", opts.Driver)
	}
}
