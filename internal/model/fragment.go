package model

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus tracks a fragment through the confidence-routed
// pipeline. Transitions only move forward; the single backward edge
// (anything analyzed → pending) is the explicit re-analysis reset and
// never happens implicitly.
type AnalysisStatus string

const (
	FragmentPending           AnalysisStatus = "pending"
	FragmentAutoIntegrated    AnalysisStatus = "auto_integrated"
	FragmentNeedsConfirmation AnalysisStatus = "needs_confirmation"
	FragmentNeedsDecision     AnalysisStatus = "needs_decision"
	FragmentResolved          AnalysisStatus = "resolved"
)

// Valid reports whether the status is recognized.
func (s AnalysisStatus) Valid() bool {
	switch s {
	case FragmentPending, FragmentAutoIntegrated, FragmentNeedsConfirmation,
		FragmentNeedsDecision, FragmentResolved:
		return true
	}
	return false
}

// Terminal reports whether no further routing happens from this status.
// Auto-integrated and resolved fragments are done; needs_decision is
// near-terminal (waiting on a human) but not terminal.
func (s AnalysisStatus) Terminal() bool {
	return s == FragmentAutoIntegrated || s == FragmentResolved
}

// CanTransition reports whether moving from s to next is a legal
// forward transition. The explicit reset to pending is modeled
// separately (see storage.ResetFragment) and is not covered here.
func (s AnalysisStatus) CanTransition(next AnalysisStatus) bool {
	switch s {
	case FragmentPending:
		switch next {
		case FragmentAutoIntegrated, FragmentNeedsConfirmation, FragmentNeedsDecision:
			return true
		}
	case FragmentNeedsConfirmation, FragmentNeedsDecision:
		return next == FragmentResolved
	}
	return false
}

// RelationshipKind is the oracle's classification of how a fragment
// relates to the unit's existing knowledge.
type RelationshipKind string

const (
	RelationNewEvidence RelationshipKind = "new_evidence"
	RelationSupports    RelationshipKind = "supports"
	RelationContradicts RelationshipKind = "contradicts"
	RelationRefines     RelationshipKind = "refines"
	RelationDuplicates  RelationshipKind = "duplicates"
	RelationIrrelevant  RelationshipKind = "irrelevant"
)

// Valid reports whether the relationship kind is recognized.
func (k RelationshipKind) Valid() bool {
	switch k {
	case RelationNewEvidence, RelationSupports, RelationContradicts,
		RelationRefines, RelationDuplicates, RelationIrrelevant:
		return true
	}
	return false
}

// Fragment is one extracted claim from a source, subject to
// classification and confidence routing. The judgment fields
// (RelationshipKind, TargetSlot, TargetItemID, Confidence, IsAmbiguous,
// Rationale) are nil/zero until the first successful classification.
type Fragment struct {
	ID           uuid.UUID      `json:"id"`
	SourceID     uuid.UUID      `json:"source_id"`
	Content      string         `json:"content"`
	LocationHint *string        `json:"location_hint,omitempty"`
	Status       AnalysisStatus `json:"status"`

	RelationshipKind *RelationshipKind `json:"relationship_kind,omitempty"`
	TargetSlot       *string           `json:"target_slot,omitempty"`
	TargetItemID     *uuid.UUID        `json:"target_item_id,omitempty"`
	Confidence       *float64          `json:"confidence,omitempty"`
	IsAmbiguous      bool              `json:"is_ambiguous"`
	Rationale        *string           `json:"rationale,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
}
