package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/storage"
	"github.com/kasane-ai/kasane/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func strPtr(s string) *string { return &s }

// newUnit creates a fresh unit for a test.
func newUnit(t *testing.T) model.Unit {
	t.Helper()
	unit, err := testDB.CreateUnit(context.Background(), model.Unit{
		Name: "epistemic humility",
		Kind: model.UnitConcept,
	})
	require.NoError(t, err)
	return unit
}

// newFragment creates a source with one pending fragment under the unit.
func newFragment(t *testing.T, unitID uuid.UUID, content string) model.Fragment {
	t.Helper()
	ctx := context.Background()
	source, err := testDB.CreateSource(ctx, model.Source{
		UnitID:     unitID,
		SourceType: model.SourceArticle,
		Name:       "test source",
		Content:    content,
	})
	require.NoError(t, err)

	frags, err := testDB.CreateFragmentsBatch(ctx, []model.Fragment{
		{SourceID: source.ID, Content: content},
	})
	require.NoError(t, err)
	require.Len(t, frags, 1)
	return frags[0]
}

func judgment(kind model.RelationshipKind, confidence float64, ambiguous bool) storage.Judgment {
	slot := model.SlotSupportingEvidence
	return storage.Judgment{
		RelationshipKind: kind,
		TargetSlot:       &slot,
		Confidence:       confidence,
		IsAmbiguous:      ambiguous,
		Rationale:        "test rationale",
	}
}

func TestCreateAndGetUnit(t *testing.T) {
	ctx := context.Background()

	unit := newUnit(t)
	got, err := testDB.GetUnit(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, got.ID)
	assert.Equal(t, model.UnitConcept, got.Kind)

	_, err = testDB.GetUnit(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFragmentLifecycle(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "all models are wrong but some are useful")

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentPending, got.Status)
	assert.Nil(t, got.Confidence)
	assert.Nil(t, got.AnalyzedAt)
}

func TestAutoIntegrate(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "strong replication evidence")

	item, err := testDB.AutoIntegrate(ctx, unit.ID, frag.ID,
		judgment(model.RelationNewEvidence, 0.92, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr("strong replication evidence"),
		},
		model.ItemEvidence,
	)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.True(t, item.Active)
	assert.Equal(t, model.ItemEvidence, item.Type)
	assert.Equal(t, 0.92, item.Strength)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentAutoIntegrated, got.Status)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 0.92, *got.Confidence)
	assert.NotNil(t, got.AnalyzedAt)

	// A second analysis of the same fragment loses the pending guard.
	_, err = testDB.AutoIntegrate(ctx, unit.ID, frag.ID,
		judgment(model.RelationNewEvidence, 0.92, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr("strong replication evidence"),
		},
		model.ItemEvidence,
	)
	assert.ErrorIs(t, err, storage.ErrWrongStatus)
}

func TestAutoIntegrateNoChange(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "restates the abstract verbatim")

	err := testDB.AutoIntegrateNoChange(ctx, frag.ID,
		judgment(model.RelationDuplicates, 0.97, false))
	require.NoError(t, err)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentAutoIntegrated, got.Status)

	items, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestConfirmFragment_Accept(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "moderately confident claim")

	staged, err := testDB.StageConfirmation(ctx, frag.ID,
		judgment(model.RelationSupports, 0.72, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr("moderately confident claim"),
		},
	)
	require.NoError(t, err)

	// Nothing lands in the item store until confirmation.
	items, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	result, err := testDB.ConfirmFragment(ctx, frag.ID, true, nil)
	require.NoError(t, err)
	require.Len(t, result.AppliedItems, 1)
	assert.Equal(t, []uuid.UUID{staged.ID}, result.Decision.AcceptedChangeIDs)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentResolved, got.Status)

	// Confirming again hits the already-resolved guard.
	_, err = testDB.ConfirmFragment(ctx, frag.ID, true, nil)
	assert.ErrorIs(t, err, storage.ErrAlreadyResolved)
}

func TestConfirmFragment_Reject(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "rejected claim")

	staged, err := testDB.StageConfirmation(ctx, frag.ID,
		judgment(model.RelationSupports, 0.65, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr("rejected claim"),
		},
	)
	require.NoError(t, err)

	result, err := testDB.ConfirmFragment(ctx, frag.ID, false, strPtr("not convincing"))
	require.NoError(t, err)
	assert.Empty(t, result.AppliedItems)
	assert.Equal(t, []uuid.UUID{staged.ID}, result.Decision.RejectedChangeIDs)

	items, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	assert.Empty(t, items)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentResolved, got.Status)
}

// stageAmbiguous stages two interpretations with one addition each.
func stageAmbiguous(t *testing.T, fragID uuid.UUID) []model.Interpretation {
	t.Helper()
	interps, err := testDB.StageInterpretations(context.Background(), fragID,
		judgment(model.RelationContradicts, 0.5, true),
		[]model.Interpretation{
			{
				Key: "a", Title: "read as counterexample", Strategy: "preserve",
				Rationale: "the case undercuts the general claim", Recommended: true,
				RelationshipKind: model.RelationContradicts,
				TargetSlot:       model.SlotCounterEvidence,
				Changes: []model.StructuralChange{{
					Kind:         model.ChangeAddition,
					TargetSlot:   model.SlotCounterEvidence,
					AfterContent: strPtr("counterexample reading"),
				}},
			},
			{
				Key: "b", Title: "read as scope limit", Strategy: "narrow",
				Rationale:        "the case only bounds the claim",
				RelationshipKind: model.RelationRefines,
				TargetSlot:       model.SlotDefinition,
				Changes: []model.StructuralChange{{
					Kind:         model.ChangeAddition,
					TargetSlot:   model.SlotDefinition,
					AfterContent: strPtr("scope-limited reading"),
				}},
			},
		},
	)
	require.NoError(t, err)
	require.Len(t, interps, 2)
	return interps
}

func TestResolveDecision(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "ambiguous fragment")
	interps := stageAmbiguous(t, frag.ID)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentNeedsDecision, got.Status)

	chosen := interps[1]
	result, err := testDB.ResolveDecision(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  chosen.ID,
		AcceptedChangeIDs: []uuid.UUID{chosen.Changes[0].ID},
	})
	require.NoError(t, err)
	require.Len(t, result.AppliedItems, 1)
	assert.Equal(t, "scope-limited reading", result.AppliedItems[0].Content)

	// The chosen interpretation is marked selected; the other is not.
	stored, err := testDB.GetInterpretationsByFragment(ctx, frag.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, in := range stored {
		assert.Equal(t, in.ID == chosen.ID, in.Selected)
	}

	got, err = testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentResolved, got.Status)

	// Decisions are immutable and exclusive: no second resolution.
	_, err = testDB.ResolveDecision(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  interps[0].ID,
		AcceptedChangeIDs: []uuid.UUID{interps[0].Changes[0].ID},
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyResolved)
}

func TestResolveDecision_InvalidSelection(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "ambiguous fragment")
	interps := stageAmbiguous(t, frag.ID)

	// Selection must cover the interpretation's change set.
	_, err := testDB.ResolveDecision(ctx, storage.ResolveRequest{
		FragmentID:       frag.ID,
		InterpretationID: interps[0].ID,
	})
	assert.ErrorIs(t, err, storage.ErrInvalidChangeSelection)

	// Fragment is untouched by the failed resolution.
	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentNeedsDecision, got.Status)
}

func TestSkipDecision(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "deferred fragment")
	interps := stageAmbiguous(t, frag.ID)

	skip, err := testDB.SkipDecision(ctx, frag.ID, strPtr("come back later"))
	require.NoError(t, err)
	assert.True(t, skip.Skipped)

	// Skipping defers; the fragment is still decidable.
	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentNeedsDecision, got.Status)

	// Multiple skips are allowed, and resolution still works after.
	_, err = testDB.SkipDecision(ctx, frag.ID, nil)
	require.NoError(t, err)

	_, err = testDB.ResolveDecision(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  interps[0].ID,
		AcceptedChangeIDs: []uuid.UUID{interps[0].Changes[0].ID},
	})
	require.NoError(t, err)

	history, err := testDB.ListDecisionsByFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	// Once resolved, a further skip is a conflict, not a deferral.
	_, err = testDB.SkipDecision(ctx, frag.ID, nil)
	assert.ErrorIs(t, err, storage.ErrAlreadyResolved)
}

func TestSupersessionChain(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)

	// Seed the definition slot through auto-integration.
	seedFrag := newFragment(t, unit.ID, "initial definition")
	seeded, err := testDB.AutoIntegrate(ctx, unit.ID, seedFrag.ID,
		judgment(model.RelationNewEvidence, 0.95, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotDefinition,
			AfterContent: strPtr("initial definition"),
		},
		model.ItemClaim,
	)
	require.NoError(t, err)

	// Revise it twice through confirmations.
	prev := seeded
	for _, content := range []string{"refined definition", "final definition"} {
		frag := newFragment(t, unit.ID, content)
		_, err := testDB.StageConfirmation(ctx, frag.ID,
			judgment(model.RelationRefines, 0.7, false),
			model.StructuralChange{
				Kind:          model.ChangeRevision,
				TargetSlot:    model.SlotDefinition,
				TargetItemID:  &prev.ID,
				BeforeContent: &prev.Content,
				AfterContent:  strPtr(content),
			},
		)
		require.NoError(t, err)
		result, err := testDB.ConfirmFragment(ctx, frag.ID, true, nil)
		require.NoError(t, err)
		require.Len(t, result.AppliedItems, 1)
		prev = &result.AppliedItems[0]
	}

	// The full chain is reachable from any node, root to tail.
	chain, err := testDB.ItemChain(ctx, seeded.ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "initial definition", chain[0].Content)
	assert.Equal(t, "final definition", chain[2].Content)

	// Exactly one active node per chain, and it is the tail.
	active := 0
	for _, it := range chain {
		if it.Active {
			active++
			assert.Equal(t, chain[2].ID, it.ID)
		}
	}
	assert.Equal(t, 1, active)

	// Only the tail shows up among active items.
	items, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "final definition", items[0].Content)
}

func TestResetFragment(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "ambiguous fragment")
	stageAmbiguous(t, frag.ID)

	require.NoError(t, testDB.ResetFragment(ctx, frag.ID))

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentPending, got.Status)
	assert.Nil(t, got.RelationshipKind)
	assert.Nil(t, got.Confidence)
	assert.False(t, got.IsAmbiguous)
	assert.Nil(t, got.AnalyzedAt)

	interps, err := testDB.GetInterpretationsByFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Empty(t, interps)

	// Reset is only legal before resolution.
	err = testDB.ResetFragment(ctx, frag.ID)
	assert.ErrorIs(t, err, storage.ErrWrongStatus)
}

func TestRecomputeProgress(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)

	autoFrag := newFragment(t, unit.ID, "auto")
	_, err := testDB.AutoIntegrate(ctx, unit.ID, autoFrag.ID,
		judgment(model.RelationNewEvidence, 0.9, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr("auto"),
		},
		"",
	)
	require.NoError(t, err)

	decisionFrag := newFragment(t, unit.ID, "ambiguous")
	stageAmbiguous(t, decisionFrag.ID)
	_, err = testDB.SkipDecision(ctx, decisionFrag.ID, nil)
	require.NoError(t, err)

	newFragment(t, unit.ID, "still pending")

	p, err := testDB.RecomputeProgress(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.TotalSources)
	assert.Equal(t, 3, p.TotalFragments)
	assert.Equal(t, 1, p.PendingCount)
	assert.Equal(t, 1, p.AutoIntegratedCount)
	assert.Equal(t, 1, p.NeedsDecisionCount)
	assert.Equal(t, 0, p.ResolvedCount)
	assert.Equal(t, 1, p.SkippedCount)

	// The stored row matches the recomputation.
	stored, err := testDB.GetProgress(ctx, unit.ID)
	require.NoError(t, err)
	assert.Equal(t, p, stored)
}

func TestListFragmentsByStatus(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)
	first := newFragment(t, unit.ID, "first ambiguous")
	second := newFragment(t, unit.ID, "second ambiguous")
	stageAmbiguous(t, first.ID)
	stageAmbiguous(t, second.ID)

	queue, err := testDB.ListFragmentsByStatus(ctx, unit.ID, model.FragmentNeedsDecision, 10)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	ids := []uuid.UUID{queue[0].ID, queue[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
}

func TestNotifyRoundtrip(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testDB.Listen(ctx, storage.ChannelSources))

	payload := uuid.NewString()
	require.NoError(t, testDB.Notify(ctx, storage.ChannelSources, payload))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	channel, got, err := testDB.WaitForNotification(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelSources, channel)
	assert.Equal(t, payload, got)
}

func TestCreateManualItem(t *testing.T) {
	ctx := context.Background()
	unit := newUnit(t)

	item, err := testDB.CreateManualItem(ctx, unit.ID,
		model.SlotSupportingEvidence, "entered by hand", model.ItemClaim, 0.7, "reviewer")
	require.NoError(t, err)
	assert.True(t, item.Active)
	assert.Equal(t, model.ProvenanceManual, item.Provenance.Kind)
	require.NotNil(t, item.Provenance.Author)
	assert.Equal(t, "reviewer", *item.Provenance.Author)

	active, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, item.ID, active[0].ID)

	_, err = testDB.CreateManualItem(ctx, unit.ID, "", "content", model.ItemClaim, 0.5, "reviewer")
	assert.Error(t, err)
	_, err = testDB.CreateManualItem(ctx, unit.ID, model.SlotSupportingEvidence, "content", "bogus", 0.5, "reviewer")
	assert.Error(t, err)
	_, err = testDB.CreateManualItem(ctx, unit.ID, model.SlotSupportingEvidence, "content", model.ItemClaim, 1.5, "reviewer")
	assert.Error(t, err)
}
