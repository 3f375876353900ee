package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hollis-dev/vigil/internal/fact"
)

// ClaimItem atomically claims a stream item id.
//
// Uses INSERT ... ON CONFLICT(item_id) DO NOTHING: exactly one caller in
// the whole system observes claimed=true for a given id; every other
// caller (including retries after a crash) observes claimed=false and must
// skip evaluation of the item. A claimed=false result is an expected,
// frequent outcome - not an error.
func (s *Store) ClaimItem(ctx context.Context, itemID string) (claimed bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (item_id, claimed_at)
		VALUES (?, ?)
		ON CONFLICT(item_id) DO NOTHING
	`, itemID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim item: rows affected: %w", err)
	}
	return rows > 0, nil
}

// HasClaim reports whether an item id has already been claimed.
func (s *Store) HasClaim(ctx context.Context, itemID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger WHERE item_id = ?
	`, itemID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check claim: %w", err)
	}
	return count > 0, nil
}

// WriteNote upserts the rendered explanation for a claimed, hostile stream
// item. Idempotent: writing the same note twice is harmless, which keeps
// the at-least-once evaluation contract safe.
func (s *Store) WriteNote(ctx context.Context, itemID string, subjectID fact.SubjectID, category fact.Category, body string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (item_id, subject_id, category, body, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			subject_id = excluded.subject_id,
			category = excluded.category,
			body = excluded.body
	`, itemID, int64(subjectID), string(category), body, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

// NotesForSubject returns every note ever recorded for a subject in one
// category, keyed by stream item id. The union of notes is the subject's
// current state for a stream category - it is reconstructed from this
// query every cycle rather than snapshotted from a collector return value.
//
// Returns an empty map (not nil) when the subject has no notes.
func (s *Store) NotesForSubject(ctx context.Context, subjectID fact.SubjectID, category fact.Category) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, body FROM notes
		WHERE subject_id = ? AND category = ?
		ORDER BY item_id COLLATE BINARY ASC
	`, int64(subjectID), string(category))
	if err != nil {
		return nil, fmt.Errorf("notes for subject: %w", err)
	}
	defer rows.Close()

	notes := make(map[string]string)
	for rows.Next() {
		var itemID, body string
		if err := rows.Scan(&itemID, &body); err != nil {
			return nil, fmt.Errorf("notes for subject: scan: %w", err)
		}
		notes[itemID] = body
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes for subject: iterate: %w", err)
	}
	return notes, nil
}

// PurgeNotes removes notes for stream items whose ids are in itemIDs.
// Used by the retention sweep once the underlying items have expired
// upstream; the evaluation cycle never deletes notes.
func (s *Store) PurgeNotes(ctx context.Context, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("purge notes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var total int64
	for _, id := range itemIDs {
		res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE item_id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("purge notes: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("purge notes: rows affected: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("purge notes: commit: %w", err)
	}
	return total, nil
}
