package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasane-ai/kasane/internal/model"
)

func proposedChanges(n int) []model.StructuralChange {
	changes := make([]model.StructuralChange, n)
	for i := range changes {
		changes[i] = model.StructuralChange{ID: uuid.New(), Kind: model.ChangeAddition}
	}
	return changes
}

func TestPartitionChanges_FullCoverage(t *testing.T) {
	changes := proposedChanges(3)

	accepted, err := partitionChanges(changes,
		[]uuid.UUID{changes[0].ID, changes[2].ID},
		[]uuid.UUID{changes[1].ID},
	)
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	// Accepted changes come back in proposal order, not selection order.
	assert.Equal(t, changes[0].ID, accepted[0].ID)
	assert.Equal(t, changes[2].ID, accepted[1].ID)
}

func TestPartitionChanges_AllRejected(t *testing.T) {
	changes := proposedChanges(2)

	accepted, err := partitionChanges(changes, nil,
		[]uuid.UUID{changes[0].ID, changes[1].ID},
	)
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestPartitionChanges_MissingChange(t *testing.T) {
	changes := proposedChanges(3)

	_, err := partitionChanges(changes,
		[]uuid.UUID{changes[0].ID},
		[]uuid.UUID{changes[1].ID},
	)
	assert.ErrorIs(t, err, ErrInvalidChangeSelection)
}

func TestPartitionChanges_OverlappingSets(t *testing.T) {
	changes := proposedChanges(2)

	_, err := partitionChanges(changes,
		[]uuid.UUID{changes[0].ID, changes[1].ID},
		[]uuid.UUID{changes[1].ID},
	)
	assert.ErrorIs(t, err, ErrInvalidChangeSelection)
}

func TestPartitionChanges_ForeignChange(t *testing.T) {
	changes := proposedChanges(2)

	_, err := partitionChanges(changes,
		[]uuid.UUID{changes[0].ID, uuid.New()},
		[]uuid.UUID{changes[1].ID},
	)
	assert.ErrorIs(t, err, ErrInvalidChangeSelection)
}

func TestSortChain(t *testing.T) {
	root := model.Item{ID: uuid.New()}
	mid := model.Item{ID: uuid.New(), SupersedesItemID: &root.ID}
	tail := model.Item{ID: uuid.New(), SupersedesItemID: &mid.ID, Active: true}

	ordered := sortChain([]model.Item{tail, root, mid})
	require.Len(t, ordered, 3)
	assert.Equal(t, root.ID, ordered[0].ID)
	assert.Equal(t, mid.ID, ordered[1].ID)
	assert.Equal(t, tail.ID, ordered[2].ID)
	assert.True(t, ordered[2].Active)
}
