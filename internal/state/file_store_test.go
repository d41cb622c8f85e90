package state

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFileStore_GetMissing(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	_, ok, err := s.GetWatermark(context.Background(), "ecb", "exchange_rates")
	if err != nil {
		t.Fatalf("GetWatermark failed: %v", err)
	}
	if ok {
		t.Error("expected missing watermark")
	}
}

func TestFileStore_AdvanceIsMonotonicAndIdempotent(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()

	if err := s.AdvanceWatermark(ctx, "fred", "DFF", "2026-08-10"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	// Same cursor: no-op.
	if err := s.AdvanceWatermark(ctx, "fred", "DFF", "2026-08-10"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	// Older cursor: no-op.
	if err := s.AdvanceWatermark(ctx, "fred", "DFF", "2026-08-01"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	cursor, ok, err := s.GetWatermark(ctx, "fred", "DFF")
	if err != nil || !ok {
		t.Fatalf("GetWatermark = %v, %v", ok, err)
	}
	if cursor != "2026-08-10" {
		t.Errorf("cursor = %s, want 2026-08-10", cursor)
	}

	// Newer cursor advances.
	if err := s.AdvanceWatermark(ctx, "fred", "DFF", "2026-08-15"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	cursor, _, _ = s.GetWatermark(ctx, "fred", "DFF")
	if cursor != "2026-08-15" {
		t.Errorf("cursor = %s, want 2026-08-15", cursor)
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := s.AdvanceWatermark(ctx, "ecb", "exchange_rates", "2026-08-20T00:00:00Z"); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	cursor, ok, err := reopened.GetWatermark(ctx, "ecb", "exchange_rates")
	if err != nil || !ok {
		t.Fatalf("GetWatermark after reopen = %v, %v", ok, err)
	}
	if cursor != "2026-08-20T00:00:00Z" {
		t.Errorf("cursor = %s", cursor)
	}
}

func TestFileStore_EmptyCursorIgnored(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	ctx := context.Background()
	if err := s.AdvanceWatermark(ctx, "a", "b", ""); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	_, ok, _ := s.GetWatermark(ctx, "a", "b")
	if ok {
		t.Error("empty cursor must not create a watermark")
	}
}
