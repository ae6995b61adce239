package model

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the immutable record of a human resolving a fragment.
// A skipped decision defers the fragment (it stays needs_decision);
// a non-skipped decision resolves it. At most one non-skipped decision
// may exist per fragment; the resolver guards this and the schema
// backs it with a partial unique index.
type Decision struct {
	ID                uuid.UUID   `json:"id"`
	FragmentID        uuid.UUID   `json:"fragment_id"`
	InterpretationID  *uuid.UUID  `json:"interpretation_id,omitempty"` // nil when skipped or confirmation-tier
	AcceptedChangeIDs []uuid.UUID `json:"accepted_change_ids"`
	RejectedChangeIDs []uuid.UUID `json:"rejected_change_ids"`
	Skipped           bool        `json:"skipped"`
	Notes             *string     `json:"notes,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}
