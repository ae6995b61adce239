package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kasane-ai/kasane/internal/model"
)

const decisionColumns = `id, fragment_id, interpretation_id, accepted_change_ids,
	rejected_change_ids, skipped, notes, created_at`

// insertDecisionTx inserts a decision row inside an existing
// transaction. A unique violation on the resolving-decision index maps
// to ErrAlreadyResolved.
func insertDecisionTx(ctx context.Context, tx pgx.Tx, d *model.Decision) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.AcceptedChangeIDs == nil {
		d.AcceptedChangeIDs = []uuid.UUID{}
	}
	if d.RejectedChangeIDs == nil {
		d.RejectedChangeIDs = []uuid.UUID{}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO decisions (id, fragment_id, interpretation_id, accepted_change_ids,
		 rejected_change_ids, skipped, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.FragmentID, d.InterpretationID, d.AcceptedChangeIDs,
		d.RejectedChangeIDs, d.Skipped, d.Notes, d.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("storage: fragment %s: %w", d.FragmentID, ErrAlreadyResolved)
		}
		return fmt.Errorf("storage: insert decision: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision by ID.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	var d model.Decision
	err := db.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.FragmentID, &d.InterpretationID, &d.AcceptedChangeIDs,
		&d.RejectedChangeIDs, &d.Skipped, &d.Notes, &d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// ListDecisionsByFragment returns a fragment's decision history,
// oldest first. Skips appear alongside the final resolving decision.
func (db *DB) ListDecisionsByFragment(ctx context.Context, fragmentID uuid.UUID) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE fragment_id = $1 ORDER BY created_at, id`,
		fragmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		var d model.Decision
		if err := rows.Scan(
			&d.ID, &d.FragmentID, &d.InterpretationID, &d.AcceptedChangeIDs,
			&d.RejectedChangeIDs, &d.Skipped, &d.Notes, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// resolvingDecisionExistsTx reports whether a non-skipped decision is
// already recorded for the fragment. The schema backs this with a
// partial unique index; the explicit probe gives a clean error before
// any item mutation happens.
func resolvingDecisionExistsTx(ctx context.Context, tx pgx.Tx, fragmentID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM decisions WHERE fragment_id = $1 AND NOT skipped)`,
		fragmentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: probe resolving decision: %w", err)
	}
	return exists, nil
}
