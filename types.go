package kasane

import (
	"time"

	"github.com/google/uuid"
)

// Unit is the public view of a knowledge unit.
// These types are curated views of internal/model for use at the
// module boundary. No internal package imports, safe to use from
// outside the module.
type Unit struct {
	ID          uuid.UUID
	Name        string
	Kind        string // concept | tension | actor
	Description *string
	CreatedAt   time.Time
}

// Source is the public view of an ingested document.
type Source struct {
	ID               uuid.UUID
	UnitID           uuid.UUID
	Type             string // article | book | news | thinker_work | url | manual
	Name             string
	ExtractionStatus string // pending | processing | completed | failed
	FragmentCount    int
	CreatedAt        time.Time
}

// Fragment is the public view of an extracted fragment and its
// classification state. The judgment fields are nil until the first
// successful classification.
type Fragment struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	Content      string
	LocationHint *string
	Status       string // pending | auto_integrated | needs_confirmation | needs_decision | resolved

	RelationshipType *string
	TargetSlot       *string
	TargetItemID     *uuid.UUID
	Confidence       *float64
	IsAmbiguous      bool
	Rationale        *string

	CreatedAt  time.Time
	AnalyzedAt *time.Time
}

// StructuralChange is the public view of one proposed item mutation.
type StructuralChange struct {
	ID               uuid.UUID
	InterpretationID *uuid.UUID // nil for the confirmation tier's single staged change
	Kind             string     // addition | revision | scope_limitation | strengthening | deletion
	TargetSlot       string
	TargetItemID     *uuid.UUID
	BeforeContent    *string
	AfterContent     *string
}

// Interpretation is the public view of one candidate reading of an
// ambiguous fragment.
type Interpretation struct {
	ID                    uuid.UUID
	Key                   string
	Title                 string
	Strategy              string
	Rationale             string
	RelationshipType      string
	TargetSlot            string
	Selected              bool
	Recommended           bool
	CommitmentStatement   string
	ForeclosureStatements []string
	Changes               []StructuralChange
}

// Decision is the public view of an immutable resolution record.
type Decision struct {
	ID                uuid.UUID
	FragmentID        uuid.UUID
	InterpretationID  *uuid.UUID // nil when skipped or confirmation-tier
	AcceptedChangeIDs []uuid.UUID
	RejectedChangeIDs []uuid.UUID
	Skipped           bool
	Notes             *string
	CreatedAt         time.Time
}

// Item is the public view of a versioned knowledge item.
type Item struct {
	ID               uuid.UUID
	UnitID           uuid.UUID
	Slot             string
	Content          string
	Type             string // claim | evidence | counterexample | synthesis_note
	Strength         float64
	Annotation       string // "" | scope_limited | strengthened
	Active           bool
	SupersedesItemID *uuid.UUID
	CreatedAt        time.Time
	SupersededAt     *time.Time
}

// Progress summarizes how far a unit's analysis has advanced.
type Progress struct {
	UnitID         uuid.UUID
	TotalSources   int
	TotalFragments int

	PendingCount           int
	AutoIntegratedCount    int
	NeedsConfirmationCount int
	NeedsDecisionCount     int
	ResolvedCount          int
	SkippedCount           int

	UpdatedAt time.Time
}

// ReviewItem bundles a waiting fragment with everything a reviewer
// needs to act on it.
type ReviewItem struct {
	Fragment        Fragment
	StagedChanges   []StructuralChange
	Interpretations []Interpretation
	Decisions       []Decision
}

// AnalysisOutcome reports where one fragment landed after
// classification. At most one of Item, StagedChange, or
// Interpretations is set; a duplicate or irrelevant fragment settles
// with none of them. Batch operations also report fragments whose
// oracle call failed: those entries carry only FragmentID and Err,
// and the fragment stays pending for a later pass.
type AnalysisOutcome struct {
	FragmentID      uuid.UUID
	Route           string // auto_integrate | needs_confirmation | needs_decision
	Item            *Item
	StagedChange    *StructuralChange
	Interpretations []Interpretation
	Err             error
}

// ResolveInput names the chosen interpretation for a needs_decision
// fragment and partitions its proposed changes. Every proposed change
// must appear in exactly one of the two sets.
type ResolveInput struct {
	FragmentID        uuid.UUID
	InterpretationID  uuid.UUID
	AcceptedChangeIDs []uuid.UUID
	RejectedChangeIDs []uuid.UUID
	Notes             *string
}

// ResolveOutcome is the committed result of a resolution or
// confirmation: the decision record and the items the accepted
// changes produced.
type ResolveOutcome struct {
	Decision     Decision
	AppliedItems []Item
}

// ItemSummary is the compact item view sent to a Classifier as
// context.
type ItemSummary struct {
	ID       uuid.UUID
	Slot     string
	Content  string
	Strength float64
}

// SlotSnapshot groups a slot's active items for classifier context.
type SlotSnapshot struct {
	Slot  string
	Items []ItemSummary
}

// UnitSnapshot is what a Classifier sees about the target unit.
type UnitSnapshot struct {
	ID           uuid.UUID
	Name         string
	Kind         string
	Slots        []SlotSnapshot
	SimilarItems []ItemSummary
}

// Judgment is a Classifier's structured verdict for one fragment.
type Judgment struct {
	RelationshipType string // new_evidence | supports | contradicts | refines | duplicates | irrelevant
	TargetSlot       *string
	TargetItemID     *uuid.UUID
	Confidence       float64 // [0,1]
	IsAmbiguous      bool
	Rationale        *string

	// Populated when the classifier proposes direct integration.
	IntegrationContent *string
	IntegrationKind    *string
}

// ProposedChange is one item mutation inside a Proposal.
type ProposedChange struct {
	Kind          string
	TargetSlot    string
	TargetItemID  *uuid.UUID
	BeforeContent *string
	AfterContent  *string
}

// Proposal is one candidate interpretation returned by a Classifier
// for an ambiguous fragment.
type Proposal struct {
	Key                   string
	Title                 string
	Strategy              string
	Rationale             string
	RelationshipType      string
	TargetSlot            string
	Recommended           bool
	Changes               []ProposedChange
	CommitmentStatement   string
	ForeclosureStatements []string
}

// ExtractedFragment is one fragment produced by an Extractor.
type ExtractedFragment struct {
	Content      string
	LocationHint *string
}
