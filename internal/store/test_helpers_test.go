package store

import (
	"path/filepath"
	"testing"

	"github.com/hollis-dev/vigil/internal/fact"
)

// createTestStore creates a store backed by a temp-dir database file.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSnapshot builds a snapshot with one flagged keyed category.
func createTestSnapshot(id fact.SubjectID) fact.Snapshot {
	snap := fact.NewSnapshot(id)
	snap.SetRecord(fact.CategoryHostileAssets, fact.NewRecord(true, fact.KeyedValue{
		"Jita": "Hostile Alliance X",
	}))
	snap.SetRecord(fact.CategoryBlacklist, fact.NewRecord(false, fact.NewSetValue("auth")))
	return snap
}
