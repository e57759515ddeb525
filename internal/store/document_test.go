// internal/store/document_test.go
package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambola-live/tambola-service/internal/models"
)

func TestApplyUpdatesCreatesIntermediateNodes(t *testing.T) {
	base := &models.GameSession{ID: "s", HostID: "h"}

	// players is omitted from the JSON form when empty; a deep set must
	// still create the node.
	next, err := applyUpdates(base, []Update{
		Set("players.555-0001", models.Player{Name: "Asha", Phone: "555-0001", TicketIDs: []string{"1"}}),
	})
	require.NoError(t, err)
	require.Contains(t, next.Players, "555-0001")
	assert.Equal(t, []string{"1"}, next.Players["555-0001"].TicketIDs)
}

func TestApplyUpdatesRootDelete(t *testing.T) {
	next, err := applyUpdates(&models.GameSession{ID: "s"}, []Update{Del("")})
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestApplyUpdatesDeleteMissingPathIsNoop(t *testing.T) {
	next, err := applyUpdates(&models.GameSession{ID: "s"}, []Update{Del("players.nobody")})
	require.NoError(t, err)
	assert.Equal(t, "s", next.ID)
}

func TestApplyUpdatesRejectsTraversalThroughScalar(t *testing.T) {
	_, err := applyUpdates(&models.GameSession{ID: "s"}, []Update{Set("id.nested", 1)})
	assert.Error(t, err)
}

func TestApplyUpdatesDoesNotMutateInput(t *testing.T) {
	base := &models.GameSession{
		ID: "s",
		GameState: models.GameState{
			Phase:   models.PhaseSetup,
			Winners: map[models.PrizeType][]string{},
		},
	}
	next, err := applyUpdates(base, []Update{Set("gameState.phase", models.PhaseBooking)})
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSetup, base.GameState.Phase)
	assert.Equal(t, models.PhaseBooking, next.GameState.Phase)
}
