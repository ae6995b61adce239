// Package model defines the core domain entities for the Kasane
// evidence integration engine: units, sources, fragments,
// interpretations, structural changes, decisions, and versioned items.
package model

import (
	"time"

	"github.com/google/uuid"
)

// UnitKind classifies a knowledge unit.
type UnitKind string

const (
	UnitConcept UnitKind = "concept"
	UnitTension UnitKind = "tension"
	UnitActor   UnitKind = "actor"
)

// Valid reports whether the kind is one of the known unit kinds.
func (k UnitKind) Valid() bool {
	switch k {
	case UnitConcept, UnitTension, UnitActor:
		return true
	}
	return false
}

// Unit is a knowledge unit that owns analytical slots. Items attach to
// (unit, slot) pairs; the slot itself is an opaque identifier chosen by
// the analysis flow (e.g. "definition", "supporting_evidence").
type Unit struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Kind        UnitKind  `json:"kind"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Well-known slot identifiers. Slots are open-ended; these are the ones
// the built-in analysis prompts reference.
const (
	SlotDefinition         = "definition"
	SlotSupportingEvidence = "supporting_evidence"
	SlotCounterEvidence    = "counter_evidence"
	SlotImplications       = "implications"
	SlotPositions          = "positions"
)
