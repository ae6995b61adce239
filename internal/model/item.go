package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// ItemType classifies the analytical role of an item's content.
type ItemType string

const (
	ItemClaim          ItemType = "claim"
	ItemEvidence       ItemType = "evidence"
	ItemCounterexample ItemType = "counterexample"
	ItemSynthesisNote  ItemType = "synthesis_note"
)

// Valid reports whether the item type is recognized.
func (t ItemType) Valid() bool {
	switch t {
	case ItemClaim, ItemEvidence, ItemCounterexample, ItemSynthesisNote:
		return true
	}
	return false
}

// ChangeAnnotation distinguishes a scope-narrowing or reinforcing
// revision from a plain content edit. Empty for additions and plain
// revisions.
type ChangeAnnotation string

const (
	AnnotationNone          ChangeAnnotation = ""
	AnnotationScopeLimited  ChangeAnnotation = "scope_limited"
	AnnotationStrengthened  ChangeAnnotation = "strengthened"
)

// Item is a versioned unit of knowledge content attached to a
// (unit, slot) pair. Items are never edited in place: a revision
// deactivates the old item and creates a successor linked through
// SupersedesItemID. Within a chain exactly one node is active and it
// is always the tail.
type Item struct {
	ID       uuid.UUID `json:"id"`
	UnitID   uuid.UUID `json:"unit_id"`
	Slot     string    `json:"slot"`
	Content  string    `json:"content"`
	Type     ItemType  `json:"type"`
	Strength float64   `json:"strength"` // 0..1 confidence in this content

	Provenance Provenance       `json:"provenance"`
	Annotation ChangeAnnotation `json:"annotation,omitempty"`

	Active           bool       `json:"active"`
	SupersedesItemID *uuid.UUID `json:"supersedes_item_id,omitempty"`
	// DeactivatedBy records the structural change that retired this
	// item. It is what makes re-applying a deletion a detectable no-op.
	DeactivatedBy *uuid.UUID `json:"deactivated_by,omitempty"`

	Embedding *pgvector.Vector `json:"-"`

	CreatedAt    time.Time  `json:"created_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}
