package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/model"
)

const fragmentColumns = `id, source_id, content, location_hint, status, relationship_kind,
	target_slot, target_item_id, confidence, is_ambiguous, rationale, created_at, analyzed_at`

// CreateFragmentsBatch inserts extracted fragments using COPY. All
// fragments start in status pending with no judgment.
func (db *DB) CreateFragmentsBatch(ctx context.Context, frags []model.Fragment) ([]model.Fragment, error) {
	if len(frags) == 0 {
		return nil, nil
	}

	columns := []string{"id", "source_id", "content", "location_hint", "status", "created_at"}
	rows := make([][]any, len(frags))
	for i := range frags {
		if frags[i].ID == uuid.Nil {
			frags[i].ID = uuid.New()
		}
		if frags[i].CreatedAt.IsZero() {
			frags[i].CreatedAt = time.Now().UTC()
		}
		frags[i].Status = model.FragmentPending
		rows[i] = []any{
			frags[i].ID, frags[i].SourceID, frags[i].Content,
			frags[i].LocationHint, frags[i].Status, frags[i].CreatedAt,
		}
	}

	_, err := db.pool.CopyFrom(ctx, pgx.Identifier{"fragments"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("storage: copy fragments: %w", err)
	}
	return frags, nil
}

// GetFragment retrieves a fragment by ID.
func (db *DB) GetFragment(ctx context.Context, id uuid.UUID) (model.Fragment, error) {
	var f model.Fragment
	err := db.pool.QueryRow(ctx,
		`SELECT `+fragmentColumns+` FROM fragments WHERE id = $1`, id,
	).Scan(
		&f.ID, &f.SourceID, &f.Content, &f.LocationHint, &f.Status,
		&f.RelationshipKind, &f.TargetSlot, &f.TargetItemID, &f.Confidence,
		&f.IsAmbiguous, &f.Rationale, &f.CreatedAt, &f.AnalyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Fragment{}, fmt.Errorf("storage: fragment %s: %w", id, ErrNotFound)
		}
		return model.Fragment{}, fmt.Errorf("storage: get fragment: %w", err)
	}
	return f, nil
}

// ListFragmentsBySource returns a source's fragments in creation order.
func (db *DB) ListFragmentsBySource(ctx context.Context, sourceID uuid.UUID) ([]model.Fragment, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+fragmentColumns+` FROM fragments
		 WHERE source_id = $1 ORDER BY created_at, id`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list fragments: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// ListFragmentsByStatus returns a unit's fragments in the given status,
// oldest first, limited. Used for the pending-review queues.
func (db *DB) ListFragmentsByStatus(ctx context.Context, unitID uuid.UUID, status model.AnalysisStatus, limit int) ([]model.Fragment, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT f.id, f.source_id, f.content, f.location_hint, f.status, f.relationship_kind,
		 f.target_slot, f.target_item_id, f.confidence, f.is_ambiguous, f.rationale, f.created_at, f.analyzed_at
		 FROM fragments f
		 JOIN sources s ON s.id = f.source_id
		 WHERE s.unit_id = $1 AND f.status = $2
		 ORDER BY f.created_at, f.id
		 LIMIT $3`,
		unitID, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list fragments by status: %w", err)
	}
	defer rows.Close()
	return scanFragments(rows)
}

// ResetFragment puts an analyzed-but-unresolved fragment back to
// pending for re-analysis: judgment fields are cleared and staged
// interpretations and changes are discarded. Resolved and
// auto-integrated fragments cannot be reset because their effects are
// already in the item store.
func (db *DB) ResetFragment(ctx context.Context, fragmentID uuid.UUID) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		var status model.AnalysisStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM fragments WHERE id = $1 FOR UPDATE`, fragmentID,
		).Scan(&status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: fragment %s: %w", fragmentID, ErrNotFound)
			}
			return fmt.Errorf("storage: lock fragment: %w", err)
		}
		switch status {
		case model.FragmentNeedsConfirmation, model.FragmentNeedsDecision:
		default:
			return fmt.Errorf("storage: reset from %s: %w", status, ErrWrongStatus)
		}

		// Staged work is discarded; interpretation rows cascade to
		// their changes.
		if _, err := tx.Exec(ctx,
			`DELETE FROM interpretations WHERE fragment_id = $1`, fragmentID,
		); err != nil {
			return fmt.Errorf("storage: discard interpretations: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM structural_changes WHERE fragment_id = $1 AND interpretation_id IS NULL`, fragmentID,
		); err != nil {
			return fmt.Errorf("storage: discard staged changes: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM decisions WHERE fragment_id = $1 AND skipped`, fragmentID,
		); err != nil {
			return fmt.Errorf("storage: discard skip records: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE fragments SET status = 'pending', relationship_kind = NULL,
			 target_slot = NULL, target_item_id = NULL, confidence = NULL,
			 is_ambiguous = FALSE, rationale = NULL, analyzed_at = NULL
			 WHERE id = $1`, fragmentID,
		); err != nil {
			return fmt.Errorf("storage: reset fragment: %w", err)
		}
		return nil
	})
}

func scanFragments(rows pgx.Rows) ([]model.Fragment, error) {
	var frags []model.Fragment
	for rows.Next() {
		var f model.Fragment
		if err := rows.Scan(
			&f.ID, &f.SourceID, &f.Content, &f.LocationHint, &f.Status,
			&f.RelationshipKind, &f.TargetSlot, &f.TargetItemID, &f.Confidence,
			&f.IsAmbiguous, &f.Rationale, &f.CreatedAt, &f.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan fragment: %w", err)
		}
		frags = append(frags, f)
	}
	return frags, rows.Err()
}
