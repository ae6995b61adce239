package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/model"
)

const changeColumns = `id, interpretation_id, fragment_id, kind, target_slot,
	target_item_id, before_content, after_content, commitment_text, created_at`

// insertChangeTx inserts one structural change inside an existing
// transaction, validating its shape first and filling generated fields
// on the passed struct.
func insertChangeTx(ctx context.Context, tx pgx.Tx, ch *model.StructuralChange) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("storage: insert change: %w", err)
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO structural_changes (id, interpretation_id, fragment_id, kind,
		 target_slot, target_item_id, before_content, after_content, commitment_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ch.ID, ch.InterpretationID, ch.FragmentID, ch.Kind,
		ch.TargetSlot, ch.TargetItemID, ch.BeforeContent, ch.AfterContent,
		ch.CommitmentText, ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert change: %w", err)
	}
	return nil
}

// rowQuerier is the slice of pgx shared by pools and transactions.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ListChangesByFragment returns every change proposed for a fragment,
// staged confirmation changes included, in creation order.
func (db *DB) ListChangesByFragment(ctx context.Context, fragmentID uuid.UUID) ([]model.StructuralChange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM structural_changes
		 WHERE fragment_id = $1 ORDER BY created_at, id`,
		fragmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

func (db *DB) changesByInterpretations(ctx context.Context, interpIDs []uuid.UUID) ([]model.StructuralChange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+changeColumns+` FROM structural_changes
		 WHERE interpretation_id = ANY($1) ORDER BY created_at, id`,
		interpIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get interpretation changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

func changesByInterpretationTx(ctx context.Context, tx pgx.Tx, interpID uuid.UUID) ([]model.StructuralChange, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+changeColumns+` FROM structural_changes
		 WHERE interpretation_id = $1 ORDER BY created_at, id`,
		interpID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get interpretation changes: %w", err)
	}
	defer rows.Close()
	return scanChanges(rows)
}

func scanChanges(rows pgx.Rows) ([]model.StructuralChange, error) {
	var changes []model.StructuralChange
	for rows.Next() {
		var ch model.StructuralChange
		if err := rows.Scan(
			&ch.ID, &ch.InterpretationID, &ch.FragmentID, &ch.Kind, &ch.TargetSlot,
			&ch.TargetItemID, &ch.BeforeContent, &ch.AfterContent, &ch.CommitmentText, &ch.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan change: %w", err)
		}
		changes = append(changes, ch)
	}
	return changes, rows.Err()
}
