package database

import (
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// TestEmbeddedMigrationsReadable smoke-tests that the embedded migration
// files parse as a valid golang-migrate source, without touching a real
// database.
func TestEmbeddedMigrationsReadable(t *testing.T) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		t.Fatalf("iofs.New: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if first == 0 {
		t.Errorf("want nonzero first migration version, got %d", first)
	}

	up, _, err := src.ReadUp(first)
	if err != nil {
		t.Fatalf("ReadUp(%d): %v", first, err)
	}
	up.Close()

	down, _, err := src.ReadDown(first)
	if err != nil {
		t.Fatalf("ReadDown(%d): %v", first, err)
	}
	down.Close()
}
