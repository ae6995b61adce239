package model

import (
	"github.com/google/uuid"
)

// ProvenanceKind identifies how an item came to exist.
type ProvenanceKind string

const (
	ProvenanceWizard    ProvenanceKind = "wizard"
	ProvenanceEvidence  ProvenanceKind = "evidence"
	ProvenanceManual    ProvenanceKind = "manual"
	ProvenanceSynthesis ProvenanceKind = "synthesis"
)

// Provenance is a tagged variant: each kind carries only the fields
// that make sense for it. Use the constructors; a zero Provenance is
// invalid. The kind-specific fields are pointers/slices so a row coming
// back from storage round-trips exactly.
type Provenance struct {
	Kind ProvenanceKind `json:"kind"`

	// Evidence: the fragment the content came from, and the structural
	// change that applied it (nil for direct auto-integration).
	FragmentID *uuid.UUID `json:"fragment_id,omitempty"`
	ChangeID   *uuid.UUID `json:"change_id,omitempty"`

	// Wizard: the dialogue session and step that produced the content.
	WizardSessionID *uuid.UUID `json:"wizard_session_id,omitempty"`
	WizardStep      *string    `json:"wizard_step,omitempty"`

	// Manual: who typed it.
	Author *string `json:"author,omitempty"`

	// Synthesis: the items the content was synthesized from.
	SynthesizedFrom []uuid.UUID `json:"synthesized_from,omitempty"`
}

// EvidenceProvenance records an item created from an analyzed fragment.
// changeID is nil when the item was auto-integrated without a staged
// structural change.
func EvidenceProvenance(fragmentID uuid.UUID, changeID *uuid.UUID) Provenance {
	return Provenance{Kind: ProvenanceEvidence, FragmentID: &fragmentID, ChangeID: changeID}
}

// WizardProvenance records an item created by the dialogue wizard.
func WizardProvenance(sessionID uuid.UUID, step string) Provenance {
	return Provenance{Kind: ProvenanceWizard, WizardSessionID: &sessionID, WizardStep: &step}
}

// ManualProvenance records an item entered directly by a person.
func ManualProvenance(author string) Provenance {
	return Provenance{Kind: ProvenanceManual, Author: &author}
}

// SynthesisProvenance records an item synthesized from other items.
func SynthesisProvenance(from []uuid.UUID) Provenance {
	return Provenance{Kind: ProvenanceSynthesis, SynthesizedFrom: from}
}

// Validate rejects combinations the constructors cannot produce: a
// kind with another kind's fields set, or a kind missing its own.
func (p Provenance) Validate() error {
	switch p.Kind {
	case ProvenanceEvidence:
		if p.FragmentID == nil {
			return &ValidationError{Field: "provenance", Reason: "evidence provenance requires a fragment"}
		}
		if p.WizardSessionID != nil || p.Author != nil || len(p.SynthesizedFrom) > 0 {
			return &ValidationError{Field: "provenance", Reason: "evidence provenance carries foreign fields"}
		}
	case ProvenanceWizard:
		if p.WizardSessionID == nil || p.WizardStep == nil {
			return &ValidationError{Field: "provenance", Reason: "wizard provenance requires session and step"}
		}
		if p.FragmentID != nil || p.Author != nil || len(p.SynthesizedFrom) > 0 {
			return &ValidationError{Field: "provenance", Reason: "wizard provenance carries foreign fields"}
		}
	case ProvenanceManual:
		if p.Author == nil || *p.Author == "" {
			return &ValidationError{Field: "provenance", Reason: "manual provenance requires an author"}
		}
		if p.FragmentID != nil || p.WizardSessionID != nil || len(p.SynthesizedFrom) > 0 {
			return &ValidationError{Field: "provenance", Reason: "manual provenance carries foreign fields"}
		}
	case ProvenanceSynthesis:
		if len(p.SynthesizedFrom) == 0 {
			return &ValidationError{Field: "provenance", Reason: "synthesis provenance requires source items"}
		}
		if p.FragmentID != nil || p.WizardSessionID != nil || p.Author != nil {
			return &ValidationError{Field: "provenance", Reason: "synthesis provenance carries foreign fields"}
		}
	default:
		return &ValidationError{Field: "provenance", Reason: "unknown kind " + string(p.Kind)}
	}
	return nil
}
