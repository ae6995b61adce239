package model

import (
	"time"

	"github.com/google/uuid"
)

// Interpretation is one candidate reading of an ambiguous fragment.
// The oracle proposes several per fragment; at most one carries
// Recommended=true, and Selected flips to true only once a Decision
// records the human's choice.
type Interpretation struct {
	ID               uuid.UUID        `json:"id"`
	FragmentID       uuid.UUID        `json:"fragment_id"`
	Key              string           `json:"key"` // ordinal letter: "a", "b", ...
	Title            string           `json:"title"`
	Strategy         string           `json:"strategy"`
	Rationale        string           `json:"rationale"`
	RelationshipKind RelationshipKind `json:"relationship_kind"`
	TargetSlot       string           `json:"target_slot"`
	Selected         bool             `json:"selected"`
	Recommended      bool             `json:"recommended"`

	// What choosing this reading commits the analysis to, and what it
	// forecloses, in the order the oracle stated them.
	CommitmentStatement   string   `json:"commitment_statement"`
	ForeclosureStatements []string `json:"foreclosure_statements"`

	CreatedAt time.Time `json:"created_at"`

	// Joined data (populated by queries, not stored on this row).
	Changes []StructuralChange `json:"changes,omitempty"`
}
