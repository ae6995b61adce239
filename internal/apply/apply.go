// Package apply executes structural changes against the item store
// using supersession: content is never mutated in place, an old item
// is deactivated and a successor created in one step.
//
// The applicator is written against a narrow ItemStore interface so
// the same code serves every flow that mutates items (evidence
// integration today, the dialogue wizard tomorrow) and so unit tests
// can run it against an in-memory fake. The storage package provides
// the transaction-bound implementation.
package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kasane-ai/kasane/internal/model"
)

// ErrStaleTarget reports a supersession race: the change's target item
// was active when the change was proposed but is not anymore. The
// caller must re-fetch and retry or surface the conflict to the human.
var ErrStaleTarget = errors.New("apply: target item no longer active")

// ItemStore is the slice of storage the applicator needs. All methods
// run inside the caller's transaction.
type ItemStore interface {
	// GetItem loads an item by id.
	GetItem(ctx context.Context, id uuid.UUID) (model.Item, error)

	// InsertItem persists a new item and returns it with generated fields.
	InsertItem(ctx context.Context, item model.Item) (model.Item, error)

	// DeactivateItem atomically flips an item from active to inactive,
	// recording which change did it. Returns false when the item was
	// not active, the signal for a lost supersession race.
	DeactivateItem(ctx context.Context, id, changeID uuid.UUID) (bool, error)

	// ItemByChange returns the item a given change already created,
	// or nil. This is the idempotence probe: a change that already
	// produced an item must not produce another.
	ItemByChange(ctx context.Context, changeID uuid.UUID) (*model.Item, error)
}

// Outcome reports what applying one change did.
type Outcome struct {
	// Item is the item the change created (nil for deletions).
	Item *model.Item
	// NoOp is true when the change had already been applied.
	NoOp bool
}

// defaultStrength is assigned to added items when the proposing flow
// supplies no confidence of its own.
const defaultStrength = 0.5

// Apply executes one structural change for a unit. Application is
// idempotent at the change level: re-applying a change that already
// ran returns NoOp=true, and a change whose target was superseded by
// someone else returns ErrStaleTarget. strength and typ shape added
// items only: a negative strength takes the default, an empty typ
// selects claim. Revisions carry the target's type forward.
func Apply(ctx context.Context, store ItemStore, unitID uuid.UUID, change model.StructuralChange, prov model.Provenance, strength float64, typ model.ItemType) (Outcome, error) {
	if err := change.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("apply: %w", err)
	}
	if err := prov.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("apply: %w", err)
	}

	// Idempotence probe: has this change already created an item?
	if existing, err := store.ItemByChange(ctx, change.ID); err != nil {
		return Outcome{}, fmt.Errorf("apply: probe change %s: %w", change.ID, err)
	} else if existing != nil {
		return Outcome{Item: existing, NoOp: true}, nil
	}

	switch change.Kind {
	case model.ChangeAddition:
		return applyAddition(ctx, store, unitID, change, prov, strength, typ)
	case model.ChangeDeletion:
		return applyDeletion(ctx, store, change)
	case model.ChangeRevision, model.ChangeScopeLimitation, model.ChangeStrengthening:
		return applyRevision(ctx, store, change, prov)
	default:
		return Outcome{}, fmt.Errorf("apply: unknown change kind %q", change.Kind)
	}
}

func applyAddition(ctx context.Context, store ItemStore, unitID uuid.UUID, change model.StructuralChange, prov model.Provenance, strength float64, typ model.ItemType) (Outcome, error) {
	if strength < 0 {
		strength = defaultStrength
	}
	if typ == "" {
		typ = model.ItemClaim
	}
	if !typ.Valid() {
		return Outcome{}, fmt.Errorf("apply: unknown item type %q", typ)
	}
	item, err := store.InsertItem(ctx, model.Item{
		UnitID:     unitID,
		Slot:       change.TargetSlot,
		Content:    *change.AfterContent,
		Type:       typ,
		Strength:   strength,
		Provenance: prov,
		Active:     true,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: addition: %w", err)
	}
	return Outcome{Item: &item}, nil
}

func applyDeletion(ctx context.Context, store ItemStore, change model.StructuralChange) (Outcome, error) {
	target, err := store.GetItem(ctx, *change.TargetItemID)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: deletion target: %w", err)
	}
	if !target.Active {
		// Our own earlier application is a no-op; anyone else's
		// deactivation is a stale target.
		if target.DeactivatedBy != nil && *target.DeactivatedBy == change.ID {
			return Outcome{NoOp: true}, nil
		}
		return Outcome{}, ErrStaleTarget
	}
	ok, err := store.DeactivateItem(ctx, target.ID, change.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: deactivate %s: %w", target.ID, err)
	}
	if !ok {
		return Outcome{}, ErrStaleTarget
	}
	return Outcome{}, nil
}

func applyRevision(ctx context.Context, store ItemStore, change model.StructuralChange, prov model.Provenance) (Outcome, error) {
	target, err := store.GetItem(ctx, *change.TargetItemID)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: revision target: %w", err)
	}
	if !target.Active {
		// The probe above already ruled out our own prior application.
		return Outcome{}, ErrStaleTarget
	}
	ok, err := store.DeactivateItem(ctx, target.ID, change.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: deactivate %s: %w", target.ID, err)
	}
	if !ok {
		return Outcome{}, ErrStaleTarget
	}

	successor := model.Item{
		UnitID:           target.UnitID,
		Slot:             target.Slot,
		Content:          *change.AfterContent,
		Type:             target.Type,
		Strength:         target.Strength, // carried forward unless a later flow overrides
		Provenance:       prov,
		Annotation:       annotationFor(change.Kind),
		Active:           true,
		SupersedesItemID: &target.ID,
	}
	item, err := store.InsertItem(ctx, successor)
	if err != nil {
		return Outcome{}, fmt.Errorf("apply: insert successor: %w", err)
	}
	return Outcome{Item: &item}, nil
}

// annotationFor distinguishes the revision variants on the new item.
func annotationFor(kind model.ChangeKind) model.ChangeAnnotation {
	switch kind {
	case model.ChangeScopeLimitation:
		return model.AnnotationScopeLimited
	case model.ChangeStrengthening:
		return model.AnnotationStrengthened
	default:
		return model.AnnotationNone
	}
}
