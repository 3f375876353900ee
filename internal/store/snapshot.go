package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hollis-dev/vigil/internal/fact"
)

// GetSnapshot returns the last-persisted snapshot for a subject.
//
// A never-seen subject is not an error: the zero-value fact.Snapshot is
// returned (IsZero() == true), which the diff engine treats as a first run.
func (s *Store) GetSnapshot(ctx context.Context, id fact.SubjectID) (fact.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots WHERE subject_id = ?
	`, int64(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fact.Snapshot{SubjectID: id}, nil
	}
	if err != nil {
		return fact.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}

	snap, err := fact.UnmarshalSnapshot(id, []byte(payload))
	if err != nil {
		return fact.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// PutSnapshot upserts a subject's snapshot. The write is a single-row
// statement, so it is atomic relative to a concurrent PutSnapshot for the
// same subject (last writer wins; the engine guarantees at most one
// in-flight evaluation per subject).
func (s *Store) PutSnapshot(ctx context.Context, snap fact.Snapshot) error {
	payload, err := snap.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (subject_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, int64(snap.SubjectID), string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// DeleteSnapshot removes a subject's snapshot row. Notes and ledger rows
// are untouched: a snapshot reset must never erase the claim history or
// the recorded explanations.
func (s *Store) DeleteSnapshot(ctx context.Context, id fact.SubjectID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE subject_id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// PurgeStaleSnapshots deletes snapshot rows not updated within the
// retention window and returns how many were removed. Run by the purge
// command, not by the evaluation cycle.
func (s *Store) PurgeStaleSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge snapshots: rows affected: %w", err)
	}
	return n, nil
}
