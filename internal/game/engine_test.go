// internal/game/engine_test.go
package game

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

const testHost = "host-1"

func initPayload() map[string]interface{} {
	return map[string]interface{}{
		"maxTickets":        12,
		"selectedTicketSet": 1,
		"callDelaySeconds":  5,
		"hostPhone":         "555-0000",
		"prizes": map[string]bool{
			"quickFive": true,
			"topLine":   true,
			"fullHouse": true,
		},
	}
}

// applyCmd runs one command end to end against the store and returns the
// resulting snapshot plus the command's effect.
func applyCmd(t *testing.T, st *store.MemoryStore, cmdType models.CommandType, payload map[string]interface{}) (*models.GameSession, *Effect) {
	t.Helper()
	ctx := context.Background()
	sess, err := st.Session(ctx, testHost)
	require.NoError(t, err)

	cmd := models.Command{ID: uuid.New(), Type: cmdType, Payload: payload, CreatedAt: time.Now().UTC()}
	effect, err := Apply(testHost, sess, cmd)
	require.NoError(t, err, "command %s", cmdType)

	next, err := st.ApplyCommand(ctx, testHost, cmd.ID, effect.Updates)
	require.NoError(t, err)
	if effect.Archive {
		require.NoError(t, st.ArchiveSession(ctx, testHost))
		next = nil
	}
	return next, effect
}

// applyErr runs one command expecting a rejection and returns the error.
func applyErr(t *testing.T, st *store.MemoryStore, cmdType models.CommandType, payload map[string]interface{}) error {
	t.Helper()
	sess, err := st.Session(context.Background(), testHost)
	require.NoError(t, err)
	_, aerr := Apply(testHost, sess, models.Command{ID: uuid.New(), Type: cmdType, Payload: payload, CreatedAt: time.Now().UTC()})
	require.Error(t, aerr, "command %s should be rejected", cmdType)
	return aerr
}

func bookedSession(t *testing.T, st *store.MemoryStore) *models.GameSession {
	t.Helper()
	applyCmd(t, st, models.CmdInitializeGame, initPayload())
	applyCmd(t, st, models.CmdStartBooking, nil)
	s, _ := applyCmd(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555-0001",
		"ticketIds":   []interface{}{"1", "2"},
	})
	return s
}

func TestInitializeGame(t *testing.T) {
	st := store.NewMemoryStore()
	s, effect := applyCmd(t, st, models.CmdInitializeGame, initPayload())

	require.NotNil(t, s)
	assert.Equal(t, models.PhaseSetup, s.GameState.Phase)
	assert.Equal(t, models.StatusPaused, s.GameState.Status)
	assert.Equal(t, testHost, s.HostID)
	assert.Len(t, s.ActiveTickets, 12)
	assert.Equal(t, 12, effect.Data["ticketCount"])
	assert.Equal(t, 5, s.NumberSystem.CallDelaySeconds)
	assert.Empty(t, s.NumberSystem.CalledNumbers)
}

func TestInitializeGameValidation(t *testing.T) {
	st := store.NewMemoryStore()

	bad := initPayload()
	bad["selectedTicketSet"] = 99
	err := applyErr(t, st, models.CmdInitializeGame, bad)
	assert.Equal(t, KindValidation, KindOf(err))

	bad = initPayload()
	bad["callDelaySeconds"] = 2
	err = applyErr(t, st, models.CmdInitializeGame, bad)
	assert.Equal(t, KindValidation, KindOf(err))

	bad = initPayload()
	bad["prizes"] = map[string]bool{"secondFullHouse": true}
	err = applyErr(t, st, models.CmdInitializeGame, bad)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPhaseGuards(t *testing.T) {
	st := store.NewMemoryStore()

	// Nothing but initialize_game works without a session.
	err := applyErr(t, st, models.CmdCallNumber, map[string]interface{}{"number": 5})
	assert.Equal(t, KindStateTransition, KindOf(err))

	applyCmd(t, st, models.CmdInitializeGame, initPayload())

	// Playing-phase commands are rejected in Setup.
	for _, cmdType := range []models.CommandType{
		models.CmdStartPlaying,
		models.CmdCallNumber,
		models.CmdPauseCalling,
		models.CmdCompleteGame,
		models.CmdCreateBooking,
	} {
		err := applyErr(t, st, cmdType, map[string]interface{}{"number": 5, "ticketIds": []interface{}{"1"}})
		assert.Equalf(t, KindStateTransition, KindOf(err), "command %s", cmdType)
	}

	// Re-initializing is allowed only while still in Setup.
	applyCmd(t, st, models.CmdInitializeGame, initPayload())
	applyCmd(t, st, models.CmdStartBooking, nil)
	err = applyErr(t, st, models.CmdInitializeGame, initPayload())
	assert.Equal(t, KindStateTransition, KindOf(err))
}

func TestStartPlayingRequiresBookings(t *testing.T) {
	st := store.NewMemoryStore()
	applyCmd(t, st, models.CmdInitializeGame, initPayload())
	applyCmd(t, st, models.CmdStartBooking, nil)

	err := applyErr(t, st, models.CmdStartPlaying, nil)
	assert.Equal(t, KindStateTransition, KindOf(err))

	applyCmd(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555-0001",
		"ticketIds":   []interface{}{"1"},
	})
	s, _ := applyCmd(t, st, models.CmdStartPlaying, nil)
	assert.Equal(t, models.PhasePlaying, s.GameState.Phase)
	assert.Equal(t, models.StatusActive, s.GameState.Status)
	assert.NotNil(t, s.StartTime)
}

func TestBookingLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	s := bookedSession(t, st)

	require.NotNil(t, s.ActiveTickets["1"].Booking)
	assert.Equal(t, "Asha", s.ActiveTickets["1"].Booking.PlayerName)
	require.Contains(t, s.Players, "555-0001")
	assert.ElementsMatch(t, []string{"1", "2"}, s.Players["555-0001"].TicketIDs)

	gridBefore := s.ActiveTickets["1"].Ticket.Grid

	// Double-booking any requested ticket fails atomically.
	err := applyErr(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Ravi",
		"phoneNumber": "555-0002",
		"ticketIds":   []interface{}{"1", "3"},
	})
	assert.Equal(t, KindConflict, KindOf(err))
	s2, serr := st.Session(context.Background(), testHost)
	require.NoError(t, serr)
	assert.Nil(t, s2.ActiveTickets["3"].Booking, "failed booking must not partially apply")

	// Cancel and rebook: the ticket layout survives unchanged.
	s3, _ := applyCmd(t, st, models.CmdCancelBooking, map[string]interface{}{
		"ticketIds": []interface{}{"1"},
	})
	assert.Nil(t, s3.ActiveTickets["1"].Booking)
	assert.ElementsMatch(t, []string{"2"}, s3.Players["555-0001"].TicketIDs)

	s4, _ := applyCmd(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Ravi",
		"phoneNumber": "555-0002",
		"ticketIds":   []interface{}{"1"},
	})
	assert.Equal(t, gridBefore, s4.ActiveTickets["1"].Ticket.Grid)
	assert.Equal(t, "Ravi", s4.ActiveTickets["1"].Booking.PlayerName)
}

func TestBookingRejectsDottedPhone(t *testing.T) {
	st := store.NewMemoryStore()
	applyCmd(t, st, models.CmdInitializeGame, initPayload())
	applyCmd(t, st, models.CmdStartBooking, nil)

	// Phone numbers key the players index as a single path segment, so a
	// '.' would splice nested nodes into the document.
	err := applyErr(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555.0001",
		"ticketIds":   []interface{}{"1"},
	})
	assert.Equal(t, KindValidation, KindOf(err))

	s, serr := st.Session(context.Background(), testHost)
	require.NoError(t, serr)
	assert.Nil(t, s.ActiveTickets["1"].Booking)
	assert.NotContains(t, s.Players, "555")
	assert.NotContains(t, s.Players, "555.0001")

	// The same guard covers rebooking under a new phone.
	applyCmd(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555-0001",
		"ticketIds":   []interface{}{"1"},
	})
	err = applyErr(t, st, models.CmdUpdateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555.0001",
		"ticketIds":   []interface{}{"1"},
	})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateBookingMovesTickets(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)

	s, _ := applyCmd(t, st, models.CmdUpdateBooking, map[string]interface{}{
		"playerName":  "Ravi",
		"phoneNumber": "555-0002",
		"ticketIds":   []interface{}{"1", "2"},
	})
	assert.Equal(t, "Ravi", s.ActiveTickets["1"].Booking.PlayerName)
	assert.Equal(t, "555-0002", s.ActiveTickets["2"].Booking.PhoneNumber)
	assert.NotContains(t, s.Players, "555-0001", "emptied player entry is removed")
	assert.ElementsMatch(t, []string{"1", "2"}, s.Players["555-0002"].TicketIDs)
}

func TestRegenerateTicketsClearsBookings(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)

	s, effect := applyCmd(t, st, models.CmdRegenerateTickets, map[string]interface{}{
		"selectedTicketSet": 2,
		"maxTickets":        18,
	})
	assert.Equal(t, 18, effect.Data["ticketCount"])
	assert.Len(t, s.ActiveTickets, 18)
	assert.Equal(t, 2, s.Settings.SelectedTicketSet)
	assert.Zero(t, s.BookingCount())
	assert.Empty(t, s.Players)
}

func TestCallNumberFlow(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)
	applyCmd(t, st, models.CmdStartPlaying, nil)

	s, effect := applyCmd(t, st, models.CmdCallNumber, map[string]interface{}{"number": 7})
	assert.Equal(t, []int{7}, s.NumberSystem.CalledNumbers)
	require.NotNil(t, s.NumberSystem.CurrentNumber)
	assert.Equal(t, 7, *s.NumberSystem.CurrentNumber)
	assert.Equal(t, 1, effect.Data["callsMade"])

	err := applyErr(t, st, models.CmdCallNumber, map[string]interface{}{"number": 7})
	assert.Equal(t, KindValidation, KindOf(err))

	err = applyErr(t, st, models.CmdCallNumber, map[string]interface{}{"number": 91})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestCallNumberAwardsWinnersAtomically(t *testing.T) {
	st := store.NewMemoryStore()
	payload := initPayload()
	payload["prizes"] = map[string]bool{"quickFive": true}
	applyCmd(t, st, models.CmdInitializeGame, payload)
	applyCmd(t, st, models.CmdStartBooking, nil)
	applyCmd(t, st, models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555-0001",
		"ticketIds":   []interface{}{"1"},
	})
	s, _ := applyCmd(t, st, models.CmdStartPlaying, nil)

	nums := s.ActiveTickets["1"].Ticket.Numbers()
	for i := 0; i < 4; i++ {
		s, _ = applyCmd(t, st, models.CmdCallNumber, map[string]interface{}{"number": nums[i]})
		assert.Empty(t, s.GameState.Winners[models.PrizeQuickFive])
	}

	s, effect := applyCmd(t, st, models.CmdCallNumber, map[string]interface{}{"number": nums[4]})
	assert.Equal(t, []string{"1"}, s.GameState.Winners[models.PrizeQuickFive])
	require.Contains(t, effect.Data, "winners")
	assert.True(t, s.AllPrizesWon())
	assert.True(t, s.CallingDone())

	// Calling halts once every enabled prize is won.
	err := applyErr(t, st, models.CmdCallNumber, map[string]interface{}{"number": 90})
	assert.Equal(t, KindStateTransition, KindOf(err))
	err = applyErr(t, st, models.CmdResumeCalling, nil)
	assert.Equal(t, KindStateTransition, KindOf(err))
}

func TestPauseResume(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)
	applyCmd(t, st, models.CmdStartPlaying, nil)

	s, _ := applyCmd(t, st, models.CmdPauseCalling, nil)
	assert.Equal(t, models.StatusPaused, s.GameState.Status)

	s, _ = applyCmd(t, st, models.CmdResumeCalling, nil)
	assert.Equal(t, models.StatusActive, s.GameState.Status)
}

func TestSetCallDelay(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)

	s, _ := applyCmd(t, st, models.CmdSetCallDelay, map[string]interface{}{"callDelaySeconds": 10})
	assert.Equal(t, 10, s.Settings.CallDelaySeconds)
	assert.Equal(t, 10, s.NumberSystem.CallDelaySeconds)

	err := applyErr(t, st, models.CmdSetCallDelay, map[string]interface{}{"callDelaySeconds": 2})
	assert.Equal(t, KindValidation, KindOf(err))
	err = applyErr(t, st, models.CmdSetCallDelay, map[string]interface{}{"callDelaySeconds": 21})
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestUpdateSettingsImmutabilityWhilePlaying(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)

	s, _ := applyCmd(t, st, models.CmdUpdateSettings, map[string]interface{}{"hostPhone": "555-9999"})
	assert.Equal(t, "555-9999", s.Settings.HostPhone)

	applyCmd(t, st, models.CmdStartPlaying, nil)

	err := applyErr(t, st, models.CmdUpdateSettings, map[string]interface{}{"hostPhone": "555-8888"})
	assert.Equal(t, KindValidation, KindOf(err))
	err = applyErr(t, st, models.CmdUpdateSettings, map[string]interface{}{"prizes": map[string]bool{"topLine": true}})
	assert.Equal(t, KindValidation, KindOf(err))

	s, _ = applyCmd(t, st, models.CmdUpdateSettings, map[string]interface{}{
		"callDelaySeconds": 8,
		"soundEnabled":     true,
	})
	assert.Equal(t, 8, s.Settings.CallDelaySeconds)
	assert.True(t, s.Settings.SoundEnabled)
}

func TestCompleteGameArchives(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)
	applyCmd(t, st, models.CmdStartPlaying, nil)
	applyCmd(t, st, models.CmdCallNumber, map[string]interface{}{"number": 42})

	s, effect := applyCmd(t, st, models.CmdCompleteGame, nil)
	assert.Nil(t, s, "current game is cleared after archiving")
	assert.True(t, effect.Archive)

	archived := st.ArchivedSessions(testHost)
	require.Len(t, archived, 1)
	assert.Equal(t, models.PhaseCompleted, archived[0].GameState.Phase)
	assert.Equal(t, []int{42}, archived[0].NumberSystem.CalledNumbers)
}

func TestReturnToSetup(t *testing.T) {
	st := store.NewMemoryStore()
	bookedSession(t, st)

	s, _ := applyCmd(t, st, models.CmdReturnToSetup, nil)
	assert.Equal(t, models.PhaseSetup, s.GameState.Phase)
	assert.Empty(t, s.ActiveTickets)
	assert.Empty(t, s.Players)
	assert.Empty(t, s.NumberSystem.CalledNumbers)
	assert.Nil(t, s.StartTime)
	assert.Equal(t, 5, s.NumberSystem.CallDelaySeconds, "configured delay survives the reset")
}
