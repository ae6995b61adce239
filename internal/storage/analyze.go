package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/apply"
	"github.com/kasane-ai/kasane/internal/model"
)

// Judgment carries the classification fields written onto a fragment
// when a routing outcome commits.
type Judgment struct {
	RelationshipKind model.RelationshipKind
	TargetSlot       *string
	TargetItemID     *uuid.UUID
	Confidence       float64
	IsAmbiguous      bool
	Rationale        string
}

// recordJudgmentTx writes the judgment and moves the fragment from
// pending to the given status. ErrWrongStatus when the fragment is not
// pending: a concurrent analyzer got there first, or the fragment was
// never reset.
func recordJudgmentTx(ctx context.Context, tx pgx.Tx, fragmentID uuid.UUID, j Judgment, status model.AnalysisStatus) error {
	if !model.FragmentPending.CanTransition(status) {
		return fmt.Errorf("storage: pending -> %s: %w", status, ErrWrongStatus)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE fragments SET status = $1, relationship_kind = $2, target_slot = $3,
		 target_item_id = $4, confidence = $5, is_ambiguous = $6, rationale = $7,
		 analyzed_at = now()
		 WHERE id = $8 AND status = 'pending'`,
		status, j.RelationshipKind, j.TargetSlot, j.TargetItemID,
		j.Confidence, j.IsAmbiguous, j.Rationale, fragmentID,
	)
	if err != nil {
		return fmt.Errorf("storage: record judgment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if probeErr := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM fragments WHERE id = $1)`, fragmentID,
		).Scan(&exists); probeErr == nil && !exists {
			return fmt.Errorf("storage: fragment %s: %w", fragmentID, ErrNotFound)
		}
		return fmt.Errorf("storage: fragment %s not pending: %w", fragmentID, ErrWrongStatus)
	}
	return nil
}

// AutoIntegrate commits a high-confidence classification in one
// transaction: the judgment lands on the fragment, the structural
// change is recorded, and the change is applied to the item store.
// itemType shapes added items; empty selects claim. The applied item
// (nil for deletions) is returned.
func (db *DB) AutoIntegrate(ctx context.Context, unitID, fragmentID uuid.UUID, j Judgment, change model.StructuralChange, itemType model.ItemType) (*model.Item, error) {
	var applied *model.Item
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := recordJudgmentTx(ctx, tx, fragmentID, j, model.FragmentAutoIntegrated); err != nil {
			return err
		}
		change.FragmentID = fragmentID
		if err := insertChangeTx(ctx, tx, &change); err != nil {
			return err
		}
		prov := model.EvidenceProvenance(fragmentID, &change.ID)
		out, err := apply.Apply(ctx, txItemStore{tx}, unitID, change, prov, j.Confidence, itemType)
		if err != nil {
			return err
		}
		applied = out.Item
		return notifyTx(ctx, tx, ChannelFragments, fragmentID.String())
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// AutoIntegrateNoChange settles a classification that produces no
// structural change, such as a duplicate or irrelevant fragment. The
// judgment lands on the fragment and it moves straight to
// auto_integrated with nothing applied.
func (db *DB) AutoIntegrateNoChange(ctx context.Context, fragmentID uuid.UUID, j Judgment) error {
	return db.inTx(ctx, func(tx pgx.Tx) error {
		if err := recordJudgmentTx(ctx, tx, fragmentID, j, model.FragmentAutoIntegrated); err != nil {
			return err
		}
		return notifyTx(ctx, tx, ChannelFragments, fragmentID.String())
	})
}

// StageConfirmation commits a medium-confidence classification: the
// judgment lands on the fragment, the single proposed change is staged
// (unapplied, no interpretation), and the fragment waits in
// needs_confirmation.
func (db *DB) StageConfirmation(ctx context.Context, fragmentID uuid.UUID, j Judgment, change model.StructuralChange) (model.StructuralChange, error) {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := recordJudgmentTx(ctx, tx, fragmentID, j, model.FragmentNeedsConfirmation); err != nil {
			return err
		}
		change.FragmentID = fragmentID
		change.InterpretationID = nil
		if err := insertChangeTx(ctx, tx, &change); err != nil {
			return err
		}
		return notifyTx(ctx, tx, ChannelFragments, fragmentID.String())
	})
	if err != nil {
		return model.StructuralChange{}, err
	}
	return change, nil
}

// StageInterpretations commits a low-confidence or ambiguous
// classification: the judgment lands on the fragment, the competing
// interpretations and their proposed changes are staged, and the
// fragment waits in needs_decision. An empty interpretation set is
// legal; the fragment then waits without candidates.
func (db *DB) StageInterpretations(ctx context.Context, fragmentID uuid.UUID, j Judgment, interps []model.Interpretation) ([]model.Interpretation, error) {
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		if err := recordJudgmentTx(ctx, tx, fragmentID, j, model.FragmentNeedsDecision); err != nil {
			return err
		}
		if err := insertInterpretationsTx(ctx, tx, fragmentID, interps); err != nil {
			return err
		}
		return notifyTx(ctx, tx, ChannelFragments, fragmentID.String())
	})
	if err != nil {
		return nil, err
	}
	return interps, nil
}
