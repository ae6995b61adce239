package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvenanceConstructorsValidate(t *testing.T) {
	changeID := uuid.New()

	provs := []Provenance{
		EvidenceProvenance(uuid.New(), &changeID),
		EvidenceProvenance(uuid.New(), nil),
		WizardProvenance(uuid.New(), "opening_question"),
		ManualProvenance("reviewer"),
		SynthesisProvenance([]uuid.UUID{uuid.New(), uuid.New()}),
	}
	for _, p := range provs {
		require.NoError(t, p.Validate(), "kind %s", p.Kind)
	}
}

func TestProvenanceRejectsForeignFields(t *testing.T) {
	frag := uuid.New()
	session := uuid.New()
	author := "reviewer"

	t.Run("unknown kind", func(t *testing.T) {
		assert.Error(t, Provenance{Kind: "telepathy"}.Validate())
	})
	t.Run("evidence without fragment", func(t *testing.T) {
		assert.Error(t, Provenance{Kind: ProvenanceEvidence}.Validate())
	})
	t.Run("evidence with wizard fields", func(t *testing.T) {
		p := Provenance{Kind: ProvenanceEvidence, FragmentID: &frag, WizardSessionID: &session}
		assert.Error(t, p.Validate())
	})
	t.Run("wizard without step", func(t *testing.T) {
		p := Provenance{Kind: ProvenanceWizard, WizardSessionID: &session}
		assert.Error(t, p.Validate())
	})
	t.Run("manual with synthesis fields", func(t *testing.T) {
		p := Provenance{Kind: ProvenanceManual, Author: &author, SynthesizedFrom: []uuid.UUID{uuid.New()}}
		assert.Error(t, p.Validate())
	})
}
