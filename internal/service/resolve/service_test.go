package resolve_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasane-ai/kasane/internal/model"
	"github.com/kasane-ai/kasane/internal/service/resolve"
	"github.com/kasane-ai/kasane/internal/storage"
	"github.com/kasane-ai/kasane/internal/testutil"
)

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

func newService(t *testing.T) *resolve.Service {
	t.Helper()
	return resolve.New(testDB, testutil.TestLogger())
}

func newUnit(t *testing.T) model.Unit {
	t.Helper()
	unit, err := testDB.CreateUnit(context.Background(), model.Unit{
		Name: "anchoring",
		Kind: model.UnitConcept,
	})
	require.NoError(t, err)
	return unit
}

func newFragment(t *testing.T, unitID uuid.UUID, content string) model.Fragment {
	t.Helper()
	ctx := context.Background()
	source, err := testDB.CreateSource(ctx, model.Source{
		UnitID:     unitID,
		SourceType: model.SourceArticle,
		Name:       "review source",
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
		Rationale:        "review rationale",
	}
}

// stageDecision routes a fragment into needs_decision with two
// competing interpretations.
func stageDecision(t *testing.T, fragID uuid.UUID) []model.Interpretation {
	t.Helper()
	interps, err := testDB.StageInterpretations(context.Background(), fragID,
		judgment(model.RelationContradicts, 0.4, true),
		[]model.Interpretation{
			{
				Key: "a", Title: "counterexample reading", Strategy: "preserve",
				Rationale: "undercuts the claim", Recommended: true,
				RelationshipKind: model.RelationContradicts,
				TargetSlot:       model.SlotCounterEvidence,
				Changes: []model.StructuralChange{{
					Kind:         model.ChangeAddition,
					TargetSlot:   model.SlotCounterEvidence,
					AfterContent: strPtr("the anchor effect reverses under incentives"),
				}},
			},
			{
				Key: "b", Title: "scope limitation reading", Strategy: "narrow",
				Rationale:        "only bounds the claim",
				RelationshipKind: model.RelationRefines,
				TargetSlot:       model.SlotDefinition,
				Changes: []model.StructuralChange{{
					Kind:         model.ChangeAddition,
					TargetSlot:   model.SlotDefinition,
					AfterContent: strPtr("the anchor effect holds without incentives"),
				}},
			},
		},
	)
	require.NoError(t, err)
	require.Len(t, interps, 2)
	return interps
}

// stageConfirmation routes a fragment into needs_confirmation with one
// staged addition.
func stageConfirmation(t *testing.T, fragID uuid.UUID, content string) model.StructuralChange {
	t.Helper()
	change, err := testDB.StageConfirmation(context.Background(), fragID,
		judgment(model.RelationNewEvidence, 0.7, false),
		model.StructuralChange{
			Kind:         model.ChangeAddition,
			TargetSlot:   model.SlotSupportingEvidence,
			AfterContent: strPtr(content),
		},
	)
	require.NoError(t, err)
	return change
}

func TestPendingQueues(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)

	confFrag := newFragment(t, unit.ID, "moderately confident claim")
	stageConfirmation(t, confFrag.ID, "staged evidence")
	decFrag := newFragment(t, unit.ID, "ambiguous claim")
	stageDecision(t, decFrag.ID)

	confs, err := svc.PendingConfirmations(ctx, unit.ID, 10)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Equal(t, confFrag.ID, confs[0].Fragment.ID)
	require.Len(t, confs[0].StagedChanges, 1)
	assert.Nil(t, confs[0].StagedChanges[0].InterpretationID)

	decs, err := svc.PendingDecisions(ctx, unit.ID, 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	assert.Equal(t, decFrag.ID, decs[0].Fragment.ID)
	require.Len(t, decs[0].Interpretations, 2)
	assert.Empty(t, decs[0].Decisions)
}

func TestResolveChoosesInterpretation(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "the effect reverses when subjects are paid")
	interps := stageDecision(t, frag.ID)

	chosen := interps[0]
	res, err := svc.Resolve(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  chosen.ID,
		AcceptedChangeIDs: []uuid.UUID{chosen.Changes[0].ID},
		Notes:             strPtr("clearly a counterexample"),
	})
	require.NoError(t, err)
	require.Len(t, res.AppliedItems, 1)
	assert.Equal(t, "the anchor effect reverses under incentives", res.AppliedItems[0].Content)
	assert.False(t, res.Decision.Skipped)
	require.NotNil(t, res.Decision.InterpretationID)
	assert.Equal(t, chosen.ID, *res.Decision.InterpretationID)

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentResolved, got.Status)

	// A fragment resolves at most once.
	_, err = svc.Resolve(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  interps[1].ID,
		AcceptedChangeIDs: []uuid.UUID{interps[1].Changes[0].ID},
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyResolved)
}

func TestSkipDefersWithoutDismissing(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "needs more thought")
	interps := stageDecision(t, frag.ID)

	dec, err := svc.Skip(ctx, frag.ID, strPtr("revisit after the next source"))
	require.NoError(t, err)
	assert.True(t, dec.Skipped)
	assert.Nil(t, dec.InterpretationID)

	// The fragment stays in the decision queue, skip on record.
	decs, err := svc.PendingDecisions(ctx, unit.ID, 10)
	require.NoError(t, err)
	require.Len(t, decs, 1)
	require.Len(t, decs[0].Decisions, 1)
	assert.True(t, decs[0].Decisions[0].Skipped)

	// A later resolution still works and closes the fragment.
	_, err = svc.Resolve(ctx, storage.ResolveRequest{
		FragmentID:        frag.ID,
		InterpretationID:  interps[0].ID,
		AcceptedChangeIDs: []uuid.UUID{interps[0].Changes[0].ID},
	})
	require.NoError(t, err)

	decs, err = svc.PendingDecisions(ctx, unit.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, decs)
}

func TestConfirmAcceptAndReject(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)

	accepted := newFragment(t, unit.ID, "accepted claim")
	stageConfirmation(t, accepted.ID, "accepted content")
	res, err := svc.Confirm(ctx, accepted.ID, true, nil)
	require.NoError(t, err)
	require.Len(t, res.AppliedItems, 1)
	assert.Equal(t, "accepted content", res.AppliedItems[0].Content)

	rejected := newFragment(t, unit.ID, "rejected claim")
	stageConfirmation(t, rejected.ID, "rejected content")
	res, err = svc.Confirm(ctx, rejected.ID, false, strPtr("not supported by the source"))
	require.NoError(t, err)
	assert.Empty(t, res.AppliedItems)

	// Both fragments resolve; only the acceptance touched the store.
	items, err := testDB.ListActiveItems(ctx, unit.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "accepted content", items[0].Content)
}

func TestResetReturnsFragmentToPending(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "stale analysis")
	stageDecision(t, frag.ID)

	require.NoError(t, svc.Reset(ctx, frag.ID))

	got, err := testDB.GetFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FragmentPending, got.Status)
	assert.Nil(t, got.Confidence)

	interps, err := testDB.GetInterpretationsByFragment(ctx, frag.ID)
	require.NoError(t, err)
	assert.Empty(t, interps)
}

func TestFragmentDetail(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	unit := newUnit(t)
	frag := newFragment(t, unit.ID, "detailed view")
	stageDecision(t, frag.ID)

	detail, err := svc.FragmentDetail(ctx, frag.ID)
	require.NoError(t, err)
	assert.Equal(t, frag.ID, detail.Fragment.ID)
	assert.Len(t, detail.Interpretations, 2)
	assert.Len(t, detail.StagedChanges, 2)
}
