package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/model"
)

// insertInterpretationsTx inserts interpretations and their proposed
// changes inside an existing transaction. IDs and back-references are
// filled in on the passed slice.
func insertInterpretationsTx(ctx context.Context, tx pgx.Tx, fragmentID uuid.UUID, interps []model.Interpretation) error {
	now := time.Now().UTC()
	for i := range interps {
		in := &interps[i]
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.FragmentID = fragmentID
		in.CreatedAt = now

		if _, err := tx.Exec(ctx,
			`INSERT INTO interpretations (id, fragment_id, key, title, strategy, rationale,
			 relationship_kind, target_slot, selected, recommended,
			 commitment_statement, foreclosure_statements, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			in.ID, in.FragmentID, in.Key, in.Title, in.Strategy, in.Rationale,
			in.RelationshipKind, in.TargetSlot, false, in.Recommended,
			in.CommitmentStatement, in.ForeclosureStatements, in.CreatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert interpretation %s: %w", in.Key, err)
		}

		for j := range in.Changes {
			ch := &in.Changes[j]
			ch.InterpretationID = &in.ID
			ch.FragmentID = fragmentID
			if err := insertChangeTx(ctx, tx, ch); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetInterpretationsByFragment returns a fragment's interpretations in
// key order, each with its proposed changes joined in.
func (db *DB) GetInterpretationsByFragment(ctx context.Context, fragmentID uuid.UUID) ([]model.Interpretation, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, fragment_id, key, title, strategy, rationale,
		 relationship_kind, target_slot, selected, recommended,
		 commitment_statement, foreclosure_statements, created_at
		 FROM interpretations WHERE fragment_id = $1 ORDER BY key`,
		fragmentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get interpretations: %w", err)
	}
	defer rows.Close()

	var interps []model.Interpretation
	for rows.Next() {
		var in model.Interpretation
		if err := rows.Scan(
			&in.ID, &in.FragmentID, &in.Key, &in.Title, &in.Strategy, &in.Rationale,
			&in.RelationshipKind, &in.TargetSlot, &in.Selected, &in.Recommended,
			&in.CommitmentStatement, &in.ForeclosureStatements, &in.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan interpretation: %w", err)
		}
		interps = append(interps, in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(interps) == 0 {
		return nil, nil
	}

	// Join changes in one query to avoid N+1.
	ids := make([]uuid.UUID, len(interps))
	byID := make(map[uuid.UUID]*model.Interpretation, len(interps))
	for i := range interps {
		ids[i] = interps[i].ID
		byID[interps[i].ID] = &interps[i]
	}
	changes, err := db.changesByInterpretations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		if in, ok := byID[*ch.InterpretationID]; ok {
			in.Changes = append(in.Changes, ch)
		}
	}
	return interps, nil
}
