package store

import (
	"context"
	"testing"
	"time"

	"github.com/hollis-dev/vigil/internal/fact"
)

func TestGetSnapshot_NeverSeenSubject(t *testing.T) {
	s := createTestStore(t)

	snap, err := s.GetSnapshot(context.Background(), 99)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if !snap.IsZero() {
		t.Errorf("snapshot for never-seen subject should be zero-value")
	}
	if snap.SubjectID != 99 {
		t.Errorf("SubjectID = %d, want 99", snap.SubjectID)
	}

	// Zero snapshot still answers with empty defaults per category.
	rec := snap.Record(fact.CategoryHostileAssets)
	if rec.Flagged {
		t.Errorf("never-seen subject should have flagged=false")
	}
}

func TestPutSnapshot_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	want := createTestSnapshot(7)
	if err := s.PutSnapshot(ctx, want); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, 7)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.IsZero() {
		t.Fatalf("snapshot should not be zero after Put")
	}

	rec := got.Record(fact.CategoryHostileAssets)
	if !rec.Flagged {
		t.Errorf("flagged = false, want true")
	}
	keyed, ok := rec.Value.(fact.KeyedValue)
	if !ok {
		t.Fatalf("value type = %T, want KeyedValue", rec.Value)
	}
	if keyed["Jita"] != "Hostile Alliance X" {
		t.Errorf("value[Jita] = %q, want %q", keyed["Jita"], "Hostile Alliance X")
	}
}

func TestPutSnapshot_Upsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestSnapshot(7)
	if err := s.PutSnapshot(ctx, first); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	second := fact.NewSnapshot(7)
	second.SetRecord(fact.CategoryHostileAssets, fact.NewRecord(false, fact.KeyedValue{}))
	if err := s.PutSnapshot(ctx, second); err != nil {
		t.Fatalf("PutSnapshot() second write failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, 7)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got.Record(fact.CategoryHostileAssets).Flagged {
		t.Errorf("second write should win: flagged = true, want false")
	}
}

func TestDeleteSnapshot_LeavesNotesIntact(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.PutSnapshot(ctx, createTestSnapshot(7)); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}
	if err := s.WriteNote(ctx, "mail-42", 7, fact.CategorySusMail, "mail from hostile"); err != nil {
		t.Fatalf("WriteNote() failed: %v", err)
	}

	if err := s.DeleteSnapshot(ctx, 7); err != nil {
		t.Fatalf("DeleteSnapshot() failed: %v", err)
	}

	snap, err := s.GetSnapshot(ctx, 7)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if !snap.IsZero() {
		t.Errorf("snapshot should be zero after delete")
	}

	notes, err := s.NotesForSubject(ctx, 7, fact.CategorySusMail)
	if err != nil {
		t.Fatalf("NotesForSubject() failed: %v", err)
	}
	if notes["mail-42"] != "mail from hostile" {
		t.Errorf("note lost across snapshot reset: got %q", notes["mail-42"])
	}
}

func TestPurgeStaleSnapshots(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.PutSnapshot(ctx, createTestSnapshot(1)); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	// Backdate the row past the retention window.
	old := time.Now().UTC().Add(-90 * 24 * time.Hour).Format(time.RFC3339)
	if _, err := s.db.Exec(`UPDATE snapshots SET updated_at = ? WHERE subject_id = 1`, old); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}
	if err := s.PutSnapshot(ctx, createTestSnapshot(2)); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	n, err := s.PurgeStaleSnapshots(ctx, 60*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeStaleSnapshots() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	snap, err := s.GetSnapshot(ctx, 2)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if snap.IsZero() {
		t.Errorf("fresh snapshot should survive the purge")
	}
}
