package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/kasane-ai/kasane/internal/apply"
	"github.com/kasane-ai/kasane/internal/model"
)

// ResolveRequest names the interpretation a human chose for a
// needs_decision fragment and partitions its proposed changes into
// accepted and rejected. Every proposed change must appear in exactly
// one of the two sets.
type ResolveRequest struct {
	FragmentID        uuid.UUID
	InterpretationID  uuid.UUID
	AcceptedChangeIDs []uuid.UUID
	RejectedChangeIDs []uuid.UUID
	Notes             *string
}

// ResolveResult is the committed outcome of a resolution: the
// immutable decision record and the items the accepted changes
// produced (deletions produce none).
type ResolveResult struct {
	Decision     model.Decision
	AppliedItems []model.Item
}

// lockFragmentTx locks a fragment row and returns its owning unit and
// current status.
func lockFragmentTx(ctx context.Context, tx pgx.Tx, fragmentID uuid.UUID) (unitID uuid.UUID, status model.AnalysisStatus, err error) {
	err = tx.QueryRow(ctx,
		`SELECT s.unit_id, f.status FROM fragments f
		 JOIN sources s ON s.id = f.source_id
		 WHERE f.id = $1 FOR UPDATE OF f`,
		fragmentID,
	).Scan(&unitID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, "", fmt.Errorf("storage: fragment %s: %w", fragmentID, ErrNotFound)
		}
		return uuid.Nil, "", fmt.Errorf("storage: lock fragment: %w", err)
	}
	return unitID, status, nil
}

// ResolveDecision records a human's resolution of a needs_decision
// fragment in one transaction: the chosen interpretation is marked
// selected, an immutable decision row is written, every accepted
// change is applied to the item store, and the fragment moves to
// resolved. A fragment resolves at most once; a second resolution
// attempt returns ErrAlreadyResolved.
func (db *DB) ResolveDecision(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	var result ResolveResult
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		unitID, status, err := lockFragmentTx(ctx, tx, req.FragmentID)
		if err != nil {
			return err
		}
		switch status {
		case model.FragmentNeedsDecision:
		case model.FragmentResolved, model.FragmentAutoIntegrated:
			return fmt.Errorf("storage: fragment %s: %w", req.FragmentID, ErrAlreadyResolved)
		default:
			return fmt.Errorf("storage: resolve from %s: %w", status, ErrWrongStatus)
		}
		if exists, err := resolvingDecisionExistsTx(ctx, tx, req.FragmentID); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("storage: fragment %s: %w", req.FragmentID, ErrAlreadyResolved)
		}

		// The interpretation must belong to this fragment and the
		// accepted/rejected sets must partition its change set.
		var interpFragment uuid.UUID
		err = tx.QueryRow(ctx,
			`SELECT fragment_id FROM interpretations WHERE id = $1`, req.InterpretationID,
		).Scan(&interpFragment)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: interpretation %s: %w", req.InterpretationID, ErrNotFound)
			}
			return fmt.Errorf("storage: get interpretation: %w", err)
		}
		if interpFragment != req.FragmentID {
			return fmt.Errorf("storage: interpretation %s belongs to another fragment: %w",
				req.InterpretationID, ErrInvalidChangeSelection)
		}

		changes, err := changesByInterpretationTx(ctx, tx, req.InterpretationID)
		if err != nil {
			return err
		}
		accepted, err := partitionChanges(changes, req.AcceptedChangeIDs, req.RejectedChangeIDs)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE interpretations SET selected = TRUE WHERE id = $1`, req.InterpretationID,
		); err != nil {
			return fmt.Errorf("storage: select interpretation: %w", err)
		}

		decision := model.Decision{
			FragmentID:        req.FragmentID,
			InterpretationID:  &req.InterpretationID,
			AcceptedChangeIDs: req.AcceptedChangeIDs,
			RejectedChangeIDs: req.RejectedChangeIDs,
			Notes:             req.Notes,
		}
		if err := insertDecisionTx(ctx, tx, &decision); err != nil {
			return err
		}

		for _, change := range accepted {
			prov := model.EvidenceProvenance(req.FragmentID, &change.ID)
			out, err := apply.Apply(ctx, txItemStore{tx}, unitID, change, prov, -1, "")
			if err != nil {
				return fmt.Errorf("storage: apply change %s: %w", change.ID, err)
			}
			if out.Item != nil {
				result.AppliedItems = append(result.AppliedItems, *out.Item)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE fragments SET status = 'resolved' WHERE id = $1`, req.FragmentID,
		); err != nil {
			return fmt.Errorf("storage: mark resolved: %w", err)
		}

		result.Decision = decision
		return notifyTx(ctx, tx, ChannelDecisions, req.FragmentID.String())
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return result, nil
}

// SkipDecision records a deferral: a skipped decision row is written
// and the fragment stays in needs_decision for a later pass.
func (db *DB) SkipDecision(ctx context.Context, fragmentID uuid.UUID, notes *string) (model.Decision, error) {
	var decision model.Decision
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		_, status, err := lockFragmentTx(ctx, tx, fragmentID)
		if err != nil {
			return err
		}
		switch status {
		case model.FragmentNeedsDecision:
		case model.FragmentResolved, model.FragmentAutoIntegrated:
			return fmt.Errorf("storage: fragment %s: %w", fragmentID, ErrAlreadyResolved)
		default:
			return fmt.Errorf("storage: skip from %s: %w", status, ErrWrongStatus)
		}
		decision = model.Decision{
			FragmentID: fragmentID,
			Skipped:    true,
			Notes:      notes,
		}
		if err := insertDecisionTx(ctx, tx, &decision); err != nil {
			return err
		}
		return notifyTx(ctx, tx, ChannelDecisions, fragmentID.String())
	})
	if err != nil {
		return model.Decision{}, err
	}
	return decision, nil
}

// ConfirmFragment resolves a needs_confirmation fragment: the single
// staged change is applied when accept is true and discarded otherwise,
// and either way an immutable decision records the call.
func (db *DB) ConfirmFragment(ctx context.Context, fragmentID uuid.UUID, accept bool, notes *string) (ResolveResult, error) {
	var result ResolveResult
	err := db.inTx(ctx, func(tx pgx.Tx) error {
		unitID, status, err := lockFragmentTx(ctx, tx, fragmentID)
		if err != nil {
			return err
		}
		switch status {
		case model.FragmentNeedsConfirmation:
		case model.FragmentResolved, model.FragmentAutoIntegrated:
			return fmt.Errorf("storage: fragment %s: %w", fragmentID, ErrAlreadyResolved)
		default:
			return fmt.Errorf("storage: confirm from %s: %w", status, ErrWrongStatus)
		}

		rows, err := tx.Query(ctx,
			`SELECT `+changeColumns+` FROM structural_changes
			 WHERE fragment_id = $1 AND interpretation_id IS NULL
			 ORDER BY created_at, id`,
			fragmentID,
		)
		if err != nil {
			return fmt.Errorf("storage: load staged change: %w", err)
		}
		staged, err := scanChanges(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(staged) != 1 {
			return fmt.Errorf("storage: expected one staged change for %s, found %d", fragmentID, len(staged))
		}
		change := staged[0]

		decision := model.Decision{
			FragmentID: fragmentID,
			Notes:      notes,
		}
		if accept {
			decision.AcceptedChangeIDs = []uuid.UUID{change.ID}
		} else {
			decision.RejectedChangeIDs = []uuid.UUID{change.ID}
		}
		if err := insertDecisionTx(ctx, tx, &decision); err != nil {
			return err
		}

		if accept {
			prov := model.EvidenceProvenance(fragmentID, &change.ID)
			out, err := apply.Apply(ctx, txItemStore{tx}, unitID, change, prov, -1, "")
			if err != nil {
				return fmt.Errorf("storage: apply change %s: %w", change.ID, err)
			}
			if out.Item != nil {
				result.AppliedItems = append(result.AppliedItems, *out.Item)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE fragments SET status = 'resolved' WHERE id = $1`, fragmentID,
		); err != nil {
			return fmt.Errorf("storage: mark resolved: %w", err)
		}

		result.Decision = decision
		return notifyTx(ctx, tx, ChannelDecisions, fragmentID.String())
	})
	if err != nil {
		return ResolveResult{}, err
	}
	return result, nil
}

// partitionChanges checks that accepted and rejected exactly cover the
// interpretation's change set without overlap and returns the accepted
// changes in their proposal order.
func partitionChanges(changes []model.StructuralChange, acceptedIDs, rejectedIDs []uuid.UUID) ([]model.StructuralChange, error) {
	seen := make(map[uuid.UUID]bool, len(acceptedIDs)+len(rejectedIDs))
	acceptSet := make(map[uuid.UUID]bool, len(acceptedIDs))
	for _, id := range acceptedIDs {
		if seen[id] {
			return nil, fmt.Errorf("storage: change %s listed twice: %w", id, ErrInvalidChangeSelection)
		}
		seen[id] = true
		acceptSet[id] = true
	}
	for _, id := range rejectedIDs {
		if seen[id] {
			return nil, fmt.Errorf("storage: change %s listed twice: %w", id, ErrInvalidChangeSelection)
		}
		seen[id] = true
	}
	if len(seen) != len(changes) {
		return nil, fmt.Errorf("storage: selection covers %d of %d changes: %w",
			len(seen), len(changes), ErrInvalidChangeSelection)
	}
	var accepted []model.StructuralChange
	for _, ch := range changes {
		if !seen[ch.ID] {
			return nil, fmt.Errorf("storage: change %s missing from selection: %w", ch.ID, ErrInvalidChangeSelection)
		}
		if acceptSet[ch.ID] {
			accepted = append(accepted, ch)
		}
	}
	return accepted, nil
}
