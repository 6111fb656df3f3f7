package blob

import (
	"context"

	infraS3 "watershed/internal/infra/blob/s3"
)

// S3Config configures an S3 or MinIO bucket backend.
type S3Config = infraS3.Config

// NewS3 returns a bucket-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenS3FromEnv builds an S3 store from WATERSHED_BLOB_S3_* variables.
func OpenS3FromEnv(ctx context.Context) (Store, error) {
	return infraS3.OpenFromEnv(ctx)
}

// NewMockS3 returns an S3 store served by an in-process fake endpoint, for
// tests in other packages.
func NewMockS3() Store { return infraS3.NewMock() }
