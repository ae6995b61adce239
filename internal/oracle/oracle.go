// Package oracle defines the contracts for the external reasoning
// service that classifies fragments and proposes interpretations.
//
// The oracle is an opaque black box: we send it structured context and
// demand structured JSON back. Responses are decoded and validated
// strictly: a malformed response is a *ClassificationError, never a
// partially-populated judgment. Implementations exist for OpenAI and
// Ollama; tests inject doubles through the same interfaces.
package oracle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kasane-ai/kasane/internal/model"
)

// Classifier judges how one fragment relates to a unit's existing
// knowledge. Implementations must return a validated Judgment or a
// *ClassificationError; there is no partial-success path.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Judgment, error)
}

// Interpreter proposes competing readings for an ambiguous fragment.
// A legal response carries zero to four proposals with at most one
// recommended; zero proposals means the fragment waits with an empty
// option set.
type Interpreter interface {
	Interpret(ctx context.Context, req InterpretRequest) ([]Proposal, error)
}

// ClassificationError wraps any failure talking to or decoding from
// the oracle: unreachable service, timeout, malformed output. It is
// retryable; callers leave the fragment pending and may try again.
type ClassificationError struct {
	Op  string // "classify" or "interpret"
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("oracle: %s: %v", e.Op, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// classifyErr and interpretErr build the typed error with the op baked in.
func classifyErr(format string, args ...any) error {
	return &ClassificationError{Op: "classify", Err: fmt.Errorf(format, args...)}
}

func interpretErr(format string, args ...any) error {
	return &ClassificationError{Op: "interpret", Err: fmt.Errorf(format, args...)}
}

// ItemSummary is the compact form of an existing item sent as context.
type ItemSummary struct {
	ID       uuid.UUID `json:"id"`
	Slot     string    `json:"slot"`
	Content  string    `json:"content"`
	Strength float64   `json:"strength"`
}

// SlotContext groups a slot's active items.
type SlotContext struct {
	Slot  string        `json:"slot"`
	Items []ItemSummary `json:"items"`
}

// UnitContext is everything the oracle sees about the target unit:
// identity, the active items per slot, and (when embeddings are
// available) items semantically close to the fragment.
type UnitContext struct {
	UnitID       uuid.UUID      `json:"unit_id"`
	UnitName     string         `json:"unit_name"`
	UnitKind     model.UnitKind `json:"unit_kind"`
	Slots        []SlotContext  `json:"slots"`
	SimilarItems []ItemSummary  `json:"similar_items,omitempty"`
}

// ClassifyRequest pairs the unit context with one fragment.
type ClassifyRequest struct {
	Context         UnitContext
	FragmentContent string
	LocationHint    *string
}

// Judgment is the oracle's structured verdict for one fragment.
type Judgment struct {
	RelationshipKind model.RelationshipKind `json:"relationship_type"`
	TargetSlot       *string                `json:"target_slot"`
	TargetItemID     *uuid.UUID             `json:"target_item_id"`
	Confidence       float64                `json:"confidence"`
	IsAmbiguous      bool                   `json:"is_ambiguous"`
	Rationale        *string                `json:"rationale"`

	// Only populated when the oracle proposes direct integration
	// (the auto-integrate and confirmation tiers).
	IntegrationContent *string `json:"integration_content"`
	IntegrationKind    *string `json:"integration_kind"`
}

// Validate enforces the classification contract. A judgment that fails
// here is treated exactly like an unreachable oracle.
func (j Judgment) Validate() error {
	if !j.RelationshipKind.Valid() {
		return fmt.Errorf("unknown relationship_type %q", j.RelationshipKind)
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", j.Confidence)
	}
	switch j.RelationshipKind {
	case model.RelationIrrelevant, model.RelationDuplicates:
		// No target required: nothing will be integrated.
	default:
		if j.TargetSlot == nil || *j.TargetSlot == "" {
			return fmt.Errorf("relationship_type %q requires a target_slot", j.RelationshipKind)
		}
	}
	if j.IntegrationContent != nil && *j.IntegrationContent == "" {
		return fmt.Errorf("integration_content present but empty")
	}
	if j.IntegrationKind != nil && !model.ItemType(*j.IntegrationKind).Valid() {
		return fmt.Errorf("unknown integration_kind %q", *j.IntegrationKind)
	}
	return nil
}

// InterpretRequest asks for competing readings of an ambiguous fragment.
type InterpretRequest struct {
	Context            UnitContext
	FragmentContent    string
	AmbiguityRationale string
}

// ChangeProposal is one proposed item-store mutation within a proposal.
type ChangeProposal struct {
	Kind          model.ChangeKind `json:"change_type"`
	TargetSlot    string           `json:"target_slot"`
	TargetItemID  *uuid.UUID       `json:"target_item_id"`
	BeforeContent *string          `json:"before_content"`
	AfterContent  *string          `json:"after_content"`
}

// Proposal is one candidate interpretation of an ambiguous fragment.
type Proposal struct {
	Key                   string                 `json:"key"`
	Title                 string                 `json:"title"`
	Strategy              string                 `json:"strategy"`
	Rationale             string                 `json:"rationale"`
	RelationshipKind      model.RelationshipKind `json:"relationship_type"`
	TargetSlot            string                 `json:"target_slot"`
	Recommended           bool                   `json:"is_recommended"`
	Changes               []ChangeProposal       `json:"structural_changes"`
	CommitmentStatement   string                 `json:"commitment_statement"`
	ForeclosureStatements []string               `json:"foreclosure_statements"`
}

// maxProposals bounds the interpretation set per the oracle contract.
const maxProposals = 4

// ValidateProposals enforces the interpretation contract over a whole
// response: bounded count, at most one recommendation, well-formed
// changes. An empty set is legal.
func ValidateProposals(proposals []Proposal) error {
	if len(proposals) > maxProposals {
		return fmt.Errorf("%d proposals exceeds maximum of %d", len(proposals), maxProposals)
	}
	recommended := 0
	seenKeys := make(map[string]bool, len(proposals))
	for i, p := range proposals {
		if p.Key == "" {
			return fmt.Errorf("proposal %d: empty key", i)
		}
		if seenKeys[p.Key] {
			return fmt.Errorf("proposal %d: duplicate key %q", i, p.Key)
		}
		seenKeys[p.Key] = true
		if p.Title == "" {
			return fmt.Errorf("proposal %q: empty title", p.Key)
		}
		if !p.RelationshipKind.Valid() {
			return fmt.Errorf("proposal %q: unknown relationship_type %q", p.Key, p.RelationshipKind)
		}
		if p.TargetSlot == "" {
			return fmt.Errorf("proposal %q: empty target_slot", p.Key)
		}
		if p.Recommended {
			recommended++
		}
		for j, c := range p.Changes {
			if !c.Kind.Valid() {
				return fmt.Errorf("proposal %q change %d: unknown change_type %q", p.Key, j, c.Kind)
			}
			if c.TargetSlot == "" {
				return fmt.Errorf("proposal %q change %d: empty target_slot", p.Key, j)
			}
			if c.Kind.RequiresTarget() && c.TargetItemID == nil {
				return fmt.Errorf("proposal %q change %d: %s requires target_item_id", p.Key, j, c.Kind)
			}
			if c.Kind != model.ChangeDeletion && (c.AfterContent == nil || *c.AfterContent == "") {
				return fmt.Errorf("proposal %q change %d: %s requires after_content", p.Key, j, c.Kind)
			}
		}
	}
	if recommended > 1 {
		return fmt.Errorf("%d proposals flagged recommended, want at most one", recommended)
	}
	return nil
}
