package groupstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/listen-together/internal/group"
)

func TestSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.Minute, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap := group.Snapshot{GroupID: "g1", Version: 3, Cursor: 1}
	if err := s.Set(context.Background(), "g1", snap); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(context.Background(), "g1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 3 || got.Cursor != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.Minute, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDisabledStoreIsNoop(t *testing.T) {
	s, err := Open(t.TempDir(), time.Minute, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Set(context.Background(), "g1", group.Snapshot{GroupID: "g1"}); err != nil {
		t.Fatalf("Set on disabled store should no-op, got %v", err)
	}
	if _, err := s.Get(context.Background(), "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound on disabled store, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.Minute, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	snap := group.Snapshot{GroupID: "g1"}
	if err := s.Set(context.Background(), "g1", snap); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(context.Background(), "g1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(context.Background(), "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
}
