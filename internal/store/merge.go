package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MissingError reports the ids in a merge or delete request that did not
// resolve to a submission. The ids are part of the contract: a repeat merge
// against an already-absorbed group must name the missing discards instead of
// silently succeeding.
type MissingError struct {
	IDs []string
}

func (e *MissingError) Error() string {
	return "submissions not found: " + strings.Join(e.IDs, ", ")
}

// MergeSubmissions absorbs the discard submissions into the survivor as one
// transaction: source ids are unioned onto the survivor, attachments are
// reassigned (never copied), tags are unioned with set semantics, and the
// discard rows are removed. Either every step commits or none does.
func (s *PostgresStore) MergeSubmissions(ctx context.Context, survivorID string, discardIDs []string, mergedBy string) (MergeLogEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MergeLogEntry{}, fmt.Errorf("begin merge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock every group member in sorted id order so two overlapping merges
	// serialize on the store's row locks instead of deadlocking.
	ids := append([]string{survivorID}, discardIDs...)
	sort.Strings(ids)
	var missing []string
	for _, id := range ids {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM submissions WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return MergeLogEntry{}, fmt.Errorf("lock submission %s: %w", id, err)
		}
	}
	if len(missing) > 0 {
		return MergeLogEntry{}, &MissingError{IDs: missing}
	}

	for _, discardID := range discardIDs {
		// Source ids are provenance and must never shrink; the union keeps
		// future re-imports of the absorbed rows recognizable.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_sources (submission_id, source_id)
			SELECT $1, source_id FROM submission_sources WHERE submission_id=$2
			ON CONFLICT (submission_id, source_id) DO NOTHING
		`, survivorID, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("union source ids from %s: %w", discardID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE attachments SET submission_id=$1 WHERE submission_id=$2
		`, survivorID, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("reassign attachments from %s: %w", discardID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO submission_tags (submission_id, tag)
			SELECT $1, tag FROM submission_tags WHERE submission_id=$2
			ON CONFLICT (submission_id, tag) DO NOTHING
		`, survivorID, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("union tags from %s: %w", discardID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM submission_tags WHERE submission_id=$1`, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("delete discard tags %s: %w", discardID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM submission_sources WHERE submission_id=$1`, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("delete discard sources %s: %w", discardID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id=$1`, discardID); err != nil {
			return MergeLogEntry{}, fmt.Errorf("delete discard %s: %w", discardID, err)
		}
	}

	mergedIDs := append([]string(nil), discardIDs...)
	sort.Strings(mergedIDs)
	encoded, err := json.Marshal(mergedIDs)
	if err != nil {
		return MergeLogEntry{}, fmt.Errorf("marshal merged ids: %w", err)
	}
	var entry MergeLogEntry
	entry.SurvivorID = survivorID
	entry.MergedIDs = mergedIDs
	entry.MergedCount = len(mergedIDs)
	entry.MergedBy = mergedBy
	entry.Note = fmt.Sprintf("Merged %d submissions into %s", len(mergedIDs), survivorID)
	err = tx.QueryRowContext(ctx, `
		INSERT INTO merge_log (survivor_id, merged_ids, merged_count, merged_by_name, note)
		VALUES ($1, $2::jsonb, $3, $4, $5)
		RETURNING id, merged_at
	`, entry.SurvivorID, string(encoded), entry.MergedCount, entry.MergedBy, entry.Note).Scan(&entry.ID, &entry.MergedAt)
	if err != nil {
		return MergeLogEntry{}, fmt.Errorf("insert merge log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MergeLogEntry{}, fmt.Errorf("commit merge tx: %w", err)
	}
	return entry, nil
}

// DeleteSubmission removes a submission and its dependent rows as one
// transaction. Blob objects are the caller's concern; metadata is the source
// of truth and goes away regardless of blob outcomes.
func (s *PostgresStore) DeleteSubmission(ctx context.Context, submissionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM submissions WHERE id=$1 FOR UPDATE`, submissionID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return &MissingError{IDs: []string{submissionID}}
	}
	if err != nil {
		return fmt.Errorf("lock submission %s: %w", submissionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE submission_id=$1`, submissionID); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_tags WHERE submission_id=$1`, submissionID); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM submission_sources WHERE submission_id=$1`, submissionID); err != nil {
		return fmt.Errorf("delete sources: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM submissions WHERE id=$1`, submissionID); err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}
