package model

import (
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a proposed mutation of the item store.
type ChangeKind string

const (
	ChangeAddition        ChangeKind = "addition"
	ChangeRevision        ChangeKind = "revision"
	ChangeScopeLimitation ChangeKind = "scope_limitation"
	ChangeStrengthening   ChangeKind = "strengthening"
	ChangeDeletion        ChangeKind = "deletion"
)

// Valid reports whether the change kind is recognized.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeAddition, ChangeRevision, ChangeScopeLimitation,
		ChangeStrengthening, ChangeDeletion:
		return true
	}
	return false
}

// RequiresTarget reports whether this kind must name an existing item.
func (k ChangeKind) RequiresTarget() bool {
	return k != ChangeAddition
}

// StructuralChange is one proposed atomic mutation of the item store.
// It is immutable once created; acceptance or rejection is recorded on
// the Decision, never here. A change belongs to an interpretation, or
// directly to a fragment when it is the single staged change of the
// needs_confirmation tier (InterpretationID nil).
type StructuralChange struct {
	ID               uuid.UUID  `json:"id"`
	InterpretationID *uuid.UUID `json:"interpretation_id,omitempty"`
	FragmentID       uuid.UUID  `json:"fragment_id"`
	Kind             ChangeKind `json:"kind"`
	TargetSlot       string     `json:"target_slot"`
	TargetItemID     *uuid.UUID `json:"target_item_id,omitempty"` // nil for additions
	BeforeContent    *string    `json:"before_content,omitempty"` // nil for additions
	AfterContent     *string    `json:"after_content,omitempty"`  // nil for deletions
	CommitmentText   *string    `json:"commitment_text,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Validate checks the shape constraints that make a change applicable:
// target item presence for target-requiring kinds, after-content for
// content-bearing kinds.
func (c StructuralChange) Validate() error {
	if !c.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown change kind " + string(c.Kind)}
	}
	if c.TargetSlot == "" {
		return &ValidationError{Field: "target_slot", Reason: "must not be empty"}
	}
	if c.Kind.RequiresTarget() && c.TargetItemID == nil {
		return &ValidationError{Field: "target_item_id", Reason: string(c.Kind) + " requires a target item"}
	}
	if c.Kind != ChangeDeletion && (c.AfterContent == nil || *c.AfterContent == "") {
		return &ValidationError{Field: "after_content", Reason: string(c.Kind) + " requires new content"}
	}
	if c.Kind == ChangeDeletion && c.AfterContent != nil {
		return &ValidationError{Field: "after_content", Reason: "deletion must not carry new content"}
	}
	return nil
}

// ValidationError reports a malformed entity field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "model: invalid " + e.Field + ": " + e.Reason
}
