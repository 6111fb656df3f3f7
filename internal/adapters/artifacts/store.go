package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"watershed/internal/blob"
)

// ObjectStore persists rendered artifacts.
type ObjectStore interface {
	// Put stores a new immutable object. It fails if key exists.
	Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]string) (Artifact, error)
	// Get returns the artifact metadata and full payload bytes.
	Get(ctx context.Context, key string) (Artifact, []byte, error)
	// Delete removes the object; returns true if it existed. Idempotent.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns artifacts whose keys start with prefix. Empty prefix lists all.
	List(ctx context.Context, prefix string) ([]Artifact, error)
}

// DefaultURLExpiry is how long presigned artifact URLs stay valid.
const DefaultURLExpiry = 24 * time.Hour

// BlobObjectStore adapts a blob.Store to ObjectStore. Artifact URLs are
// presigned when the backend supports it and fall back to the backend's
// locator otherwise.
type BlobObjectStore struct {
	store  blob.Store
	expiry time.Duration
}

// NewBlobObjectStore wraps store. A non-positive expiry selects DefaultURLExpiry.
func NewBlobObjectStore(store blob.Store, expiry time.Duration) *BlobObjectStore {
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &BlobObjectStore{store: store, expiry: expiry}
}

// Blob exposes the wrapped backend.
func (s *BlobObjectStore) Blob() blob.Store { return s.store }

func (s *BlobObjectStore) Put(ctx context.Context, key string, payload []byte, contentType string, metadata map[string]string) (Artifact, error) {
	info, err := s.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: contentType, Metadata: metadata})
	if err != nil {
		return Artifact{}, fmt.Errorf("put %s: %w", key, err)
	}
	art := fromInfo(info)
	if url, err := s.presign(ctx, key); err != nil {
		return Artifact{}, err
	} else if url != "" {
		art.URL = url
	}
	return art, nil
}

func (s *BlobObjectStore) Get(ctx context.Context, key string) (Artifact, []byte, error) {
	info, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return Artifact{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return fromInfo(info), payload, nil
}

func (s *BlobObjectStore) Delete(ctx context.Context, key string) (bool, error) {
	return s.store.Delete(ctx, key)
}

func (s *BlobObjectStore) List(ctx context.Context, prefix string) ([]Artifact, error) {
	infos, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Artifact, 0, len(infos))
	for _, info := range infos {
		out = append(out, fromInfo(info))
	}
	return out, nil
}

func (s *BlobObjectStore) presign(ctx context.Context, key string) (string, error) {
	url, err := s.store.PresignURL(ctx, key, blob.SignedURLOptions{Method: "GET", Expiry: s.expiry})
	if errors.Is(err, blob.ErrUnsupported) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}

func fromInfo(info blob.Info) Artifact {
	art := Artifact{
		Key:         info.Key,
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
		URL:         info.URL,
		Metadata:    info.Metadata,
		CreatedAt:   info.LastModified,
	}
	if m := info.Metadata; m != nil {
		art.Format = Format(m[metaFormat])
		art.Label = m[metaLabel]
	}
	return art
}
