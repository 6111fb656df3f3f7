package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"watershed/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"level": "12"}
	if _, err := s.Put(ctx, "dem/12/0_0.wsr", bytes.NewBufferString("tile"), core.PutOptions{ContentType: "application/octet-stream", Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["level"] = "mutated"
	info, err := s.Head(ctx, "dem/12/0_0.wsr")
	if err != nil || info.Size != 4 || info.Metadata["level"] != "12" {
		t.Fatalf("head: %v %+v", err, info)
	}
	if _, err := s.Put(ctx, "dem/12/0_0.wsr", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := s.Get(ctx, "dem/12/0_0.wsr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "tile" {
		t.Fatalf("body = %q", b)
	}
	_, _ = s.Put(ctx, "dem/13/0_0.wsr", bytes.NewBufferString("t"), core.PutOptions{})
	_, _ = s.Put(ctx, "runs/a", bytes.NewBufferString("r"), core.PutOptions{})
	list, _ := s.List(ctx, "dem/")
	if len(list) != 2 || list[0].Key != "dem/12/0_0.wsr" || list[1].Key != "dem/13/0_0.wsr" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "dem/12/0_0.wsr"); !ok {
		t.Fatalf("delete reported missing")
	}
	if ok, _ := s.Delete(ctx, "dem/12/0_0.wsr"); ok {
		t.Fatalf("second delete reported present")
	}
	if _, _, err := s.Get(ctx, "dem/12/0_0.wsr"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.PresignURL(ctx, "runs/a", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestStoreRejectsEmptyKeyAndCancelledContext(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), "", bytes.NewBufferString("x"), core.PutOptions{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", bytes.NewBufferString("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
