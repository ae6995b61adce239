package oracle

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasane-ai/kasane/internal/model"
)

func strPtr(s string) *string { return &s }

func TestJudgmentValidate(t *testing.T) {
	itemID := uuid.New()

	valid := Judgment{
		RelationshipKind: model.RelationSupports,
		TargetSlot:       strPtr("supporting_evidence"),
		TargetItemID:     &itemID,
		Confidence:       0.9,
		Rationale:        strPtr("directly restates the claim"),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Judgment)
	}{
		{"unknown relationship", func(j *Judgment) { j.RelationshipKind = "tangential" }},
		{"confidence above 1", func(j *Judgment) { j.Confidence = 1.2 }},
		{"negative confidence", func(j *Judgment) { j.Confidence = -0.1 }},
		{"missing target slot", func(j *Judgment) { j.TargetSlot = nil }},
		{"empty target slot", func(j *Judgment) { j.TargetSlot = strPtr("") }},
		{"empty integration content", func(j *Judgment) { j.IntegrationContent = strPtr("") }},
		{"unknown integration kind", func(j *Judgment) { j.IntegrationKind = strPtr("speculation") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := valid
			tt.mutate(&j)
			assert.Error(t, j.Validate())
		})
	}

	t.Run("irrelevant needs no target", func(t *testing.T) {
		j := Judgment{RelationshipKind: model.RelationIrrelevant, Confidence: 0.95}
		assert.NoError(t, j.Validate())
	})
	t.Run("duplicate needs no target", func(t *testing.T) {
		j := Judgment{RelationshipKind: model.RelationDuplicates, Confidence: 0.88}
		assert.NoError(t, j.Validate())
	})
}

func TestValidateProposals(t *testing.T) {
	itemID := uuid.New()
	good := func(key string) Proposal {
		return Proposal{
			Key:              key,
			Title:            "reading " + key,
			Strategy:         "conservative",
			Rationale:        "r",
			RelationshipKind: model.RelationRefines,
			TargetSlot:       "definition",
			Changes: []ChangeProposal{{
				Kind:         model.ChangeRevision,
				TargetSlot:   "definition",
				TargetItemID: &itemID,
				AfterContent: strPtr("narrower wording"),
			}},
			CommitmentStatement:   "commits to the narrow reading",
			ForeclosureStatements: []string{"forecloses the broad reading"},
		}
	}

	t.Run("empty set is legal", func(t *testing.T) {
		assert.NoError(t, ValidateProposals(nil))
	})

	t.Run("well-formed set", func(t *testing.T) {
		a, b := good("a"), good("b")
		b.Recommended = true
		assert.NoError(t, ValidateProposals([]Proposal{a, b}))
	})

	t.Run("too many proposals", func(t *testing.T) {
		ps := []Proposal{good("a"), good("b"), good("c"), good("d"), good("e")}
		assert.Error(t, ValidateProposals(ps))
	})

	t.Run("two recommended", func(t *testing.T) {
		a, b := good("a"), good("b")
		a.Recommended = true
		b.Recommended = true
		assert.Error(t, ValidateProposals([]Proposal{a, b}))
	})

	t.Run("duplicate keys", func(t *testing.T) {
		assert.Error(t, ValidateProposals([]Proposal{good("a"), good("a")}))
	})

	t.Run("revision without target item", func(t *testing.T) {
		p := good("a")
		p.Changes[0].TargetItemID = nil
		assert.Error(t, ValidateProposals([]Proposal{p}))
	})

	t.Run("addition without content", func(t *testing.T) {
		p := good("a")
		p.Changes[0] = ChangeProposal{Kind: model.ChangeAddition, TargetSlot: "definition"}
		assert.Error(t, ValidateProposals([]Proposal{p}))
	})

	t.Run("deletion needs no content", func(t *testing.T) {
		p := good("a")
		p.Changes[0] = ChangeProposal{Kind: model.ChangeDeletion, TargetSlot: "definition", TargetItemID: &itemID}
		assert.NoError(t, ValidateProposals([]Proposal{p}))
	})
}
