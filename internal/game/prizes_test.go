// internal/game/prizes_test.go
package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambola-live/tambola-service/internal/models"
)

// prizeSession builds a playing-phase session over catalog set 1 with only
// the given prizes enabled.
func prizeSession(enabled ...models.PrizeType) *models.GameSession {
	prizes := map[models.PrizeType]bool{}
	for _, pt := range enabled {
		prizes[pt] = true
	}
	return &models.GameSession{
		ID:     "session-1",
		HostID: "host-1",
		Settings: models.Settings{
			MaxTickets:        12,
			SelectedTicketSet: 1,
			CallDelaySeconds:  5,
			Prizes:            prizes,
		},
		GameState: models.GameState{
			Phase:   models.PhasePlaying,
			Status:  models.StatusActive,
			Winners: map[models.PrizeType][]string{},
		},
		ActiveTickets: GenerateTickets(1, 12),
		Players:       map[string]*models.Player{},
	}
}

func book(s *models.GameSession, phone, name string, ids ...string) {
	for _, id := range ids {
		s.ActiveTickets[id].Booking = &models.Booking{
			PlayerName:  name,
			PhoneNumber: phone,
			Timestamp:   time.Now(),
		}
	}
}

func call(s *models.GameSession, nums ...int) {
	s.NumberSystem.CalledNumbers = append(s.NumberSystem.CalledNumbers, nums...)
}

func TestQuickFive(t *testing.T) {
	s := prizeSession(models.PrizeQuickFive)
	book(s, "555-0001", "Asha", "1")
	nums := s.ActiveTickets["1"].Ticket.Numbers()

	call(s, nums[:4]...)
	assert.Empty(t, EvaluatePrizes(s))

	call(s, nums[4])
	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"1"}, newly[models.PrizeQuickFive])
}

func TestLinePrizes(t *testing.T) {
	s := prizeSession(models.PrizeTopLine, models.PrizeMiddleLine, models.PrizeBottomLine)
	book(s, "555-0001", "Asha", "2")
	tk := &s.ActiveTickets["2"].Ticket

	call(s, tk.Row(0)...)
	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"2"}, newly[models.PrizeTopLine])
	assert.Empty(t, newly[models.PrizeMiddleLine])
	assert.Empty(t, newly[models.PrizeBottomLine])

	call(s, tk.Row(1)...)
	call(s, tk.Row(2)...)
	newly = EvaluatePrizes(s)
	assert.Equal(t, []string{"2"}, newly[models.PrizeMiddleLine])
	assert.Equal(t, []string{"2"}, newly[models.PrizeBottomLine])
}

func TestCornersPrizes(t *testing.T) {
	s := prizeSession(models.PrizeCorners, models.PrizeStarCorners)
	book(s, "555-0001", "Asha", "1")
	tk := &s.ActiveTickets["1"].Ticket

	call(s, tk.Corners(false)...)
	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"1"}, newly[models.PrizeCorners])
	assert.Empty(t, newly[models.PrizeStarCorners])

	s.GameState.Winners[models.PrizeCorners] = newly[models.PrizeCorners]
	call(s, tk.Corners(true)...)
	newly = EvaluatePrizes(s)
	assert.Equal(t, []string{"1"}, newly[models.PrizeStarCorners])
	assert.Empty(t, newly[models.PrizeCorners], "corners must not be re-awarded")
}

func TestFullHouseThenSecondFullHouse(t *testing.T) {
	s := prizeSession(models.PrizeFullHouse, models.PrizeSecondFullHouse)
	book(s, "555-0001", "Asha", "1")
	book(s, "555-0002", "Ravi", "2")

	call(s, s.ActiveTickets["1"].Ticket.Numbers()...)
	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"1"}, newly[models.PrizeFullHouse])
	assert.Empty(t, newly[models.PrizeSecondFullHouse])
	s.GameState.Winners[models.PrizeFullHouse] = newly[models.PrizeFullHouse]

	call(s, s.ActiveTickets["2"].Ticket.Numbers()...)
	newly = EvaluatePrizes(s)
	assert.Empty(t, newly[models.PrizeFullHouse])
	assert.Equal(t, []string{"2"}, newly[models.PrizeSecondFullHouse])
}

func TestSecondFullHouseSameCall(t *testing.T) {
	// Both houses completed by the same evaluation pass: the first slot is
	// filled before the second is considered.
	s := prizeSession(models.PrizeFullHouse, models.PrizeSecondFullHouse)
	book(s, "555-0001", "Asha", "1")
	book(s, "555-0002", "Ravi", "2")
	call(s, s.ActiveTickets["1"].Ticket.Numbers()...)
	call(s, s.ActiveTickets["2"].Ticket.Numbers()...)

	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"1"}, newly[models.PrizeFullHouse])
	assert.Equal(t, []string{"2"}, newly[models.PrizeSecondFullHouse])
}

func TestSimultaneousQualifiersLowestIDWins(t *testing.T) {
	s := prizeSession(models.PrizeTopLine)
	book(s, "555-0001", "Asha", "3")
	book(s, "555-0002", "Ravi", "2")

	call(s, s.ActiveTickets["2"].Ticket.Row(0)...)
	call(s, s.ActiveTickets["3"].Ticket.Row(0)...)

	newly := EvaluatePrizes(s)
	assert.Equal(t, []string{"2"}, newly[models.PrizeTopLine])
}

func TestUnbookedTicketsNeverWin(t *testing.T) {
	s := prizeSession(models.PrizeFullHouse)
	book(s, "555-0001", "Asha", "2")
	call(s, s.ActiveTickets["1"].Ticket.Numbers()...)
	assert.Empty(t, EvaluatePrizes(s))
}

func TestHalfSheet(t *testing.T) {
	s := prizeSession(models.PrizeHalfSheet)
	book(s, "555-0001", "Asha", "1", "2", "3")
	for _, id := range []string{"1", "2", "3"} {
		call(s, s.ActiveTickets[id].Ticket.Numbers()...)
	}

	newly := EvaluatePrizes(s)
	require.Len(t, newly[models.PrizeHalfSheet], 3)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, newly[models.PrizeHalfSheet])
}

func TestHalfSheetRequiresSamePlayer(t *testing.T) {
	s := prizeSession(models.PrizeHalfSheet)
	book(s, "555-0001", "Asha", "1", "2")
	book(s, "555-0002", "Ravi", "3")
	for _, id := range []string{"1", "2", "3"} {
		call(s, s.ActiveTickets[id].Ticket.Numbers()...)
	}
	assert.Empty(t, EvaluatePrizes(s))
}

func TestFullSheet(t *testing.T) {
	s := prizeSession(models.PrizeFullSheet)
	book(s, "555-0001", "Asha", "1", "2", "3", "4", "5", "6")
	for n := 1; n <= 90; n++ {
		call(s, n)
	}

	newly := EvaluatePrizes(s)
	assert.ElementsMatch(t, []string{"1", "2", "3", "4", "5", "6"}, newly[models.PrizeFullSheet])
}

func TestAwardedPrizesAreNeverRevisited(t *testing.T) {
	s := prizeSession(models.PrizeQuickFive)
	book(s, "555-0001", "Asha", "1")
	call(s, s.ActiveTickets["1"].Ticket.Numbers()...)
	s.GameState.Winners[models.PrizeQuickFive] = []string{"1"}

	assert.Empty(t, EvaluatePrizes(s))
}

func TestAllPrizesWonAndCallingDone(t *testing.T) {
	s := prizeSession(models.PrizeQuickFive, models.PrizeTopLine)
	assert.False(t, s.AllPrizesWon())
	assert.False(t, s.CallingDone())

	s.GameState.Winners[models.PrizeQuickFive] = []string{"1"}
	assert.False(t, s.AllPrizesWon())

	s.GameState.Winners[models.PrizeTopLine] = []string{"2"}
	assert.True(t, s.AllPrizesWon())
	assert.True(t, s.CallingDone())
}
