package model

import (
	"time"

	"github.com/google/uuid"
)

// Progress is the per-unit denormalized view of analysis state. It is
// always recomputable from source and fragment rows; the stored copy
// exists only to make the dashboard query cheap, and every read path
// refreshes it first.
type Progress struct {
	UnitID         uuid.UUID `json:"unit_id"`
	TotalSources   int       `json:"total_sources"`
	TotalFragments int       `json:"total_fragments"`

	PendingCount           int `json:"pending_count"`
	AutoIntegratedCount    int `json:"auto_integrated_count"`
	NeedsConfirmationCount int `json:"needs_confirmation_count"`
	NeedsDecisionCount     int `json:"needs_decision_count"`
	ResolvedCount          int `json:"resolved_count"`
	SkippedCount           int `json:"skipped_count"`

	UpdatedAt time.Time `json:"updated_at"`
}
