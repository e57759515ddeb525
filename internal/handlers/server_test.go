// internal/handlers/server_test.go
package handlers

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// TestHostRuntimeEndToEnd drives a full game through one host runtime: the
// dispatcher applies commands, the store fans snapshots back, and the
// scheduler calls numbers on its own until the enabled prize is won.
func TestHostRuntimeEndToEnd(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	srv := NewServer(quietLogger(), st, nil)
	defer srv.Shutdown()

	rt := srv.Runtime("host-1")
	rt.scheduler.DelayFn = func(*models.GameSession) time.Duration { return 2 * time.Millisecond }

	submit := func(cmdType models.CommandType, payload map[string]interface{}) {
		t.Helper()
		_, err := rt.dispatcher.Submit(models.Command{Type: cmdType, Payload: payload})
		require.NoError(t, err)
	}

	submit(models.CmdInitializeGame, map[string]interface{}{
		"maxTickets":        6,
		"selectedTicketSet": 1,
		"callDelaySeconds":  5,
		"prizes":            map[string]bool{"quickFive": true},
	})
	submit(models.CmdStartBooking, nil)
	submit(models.CmdCreateBooking, map[string]interface{}{
		"playerName":  "Asha",
		"phoneNumber": "555-0001",
		"ticketIds":   []interface{}{"1"},
	})
	submit(models.CmdStartPlaying, nil)

	require.Eventually(t, func() bool {
		s := rt.Latest()
		return s != nil && s.GameState.Phase == models.PhasePlaying
	}, 5*time.Second, 5*time.Millisecond)

	// The scheduler keeps drawing on its own until quickFive lands.
	require.Eventually(t, func() bool {
		s := rt.Latest()
		return s != nil && s.AllPrizesWon()
	}, 10*time.Second, 10*time.Millisecond)

	s := rt.Latest()
	require.NotNil(t, s)
	assert.Equal(t, []string{"1"}, s.GameState.Winners[models.PrizeQuickFive])
	assert.Equal(t, models.PhasePlaying, s.GameState.Phase, "completion stays with the host")
	assert.True(t, s.CallingDone())

	// Calling has halted; the call count settles.
	calls := len(s.NumberSystem.CalledNumbers)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, len(rt.Latest().NumberSystem.CalledNumbers))

	submit(models.CmdCompleteGame, nil)
	require.Eventually(t, func() bool {
		return rt.Latest() == nil
	}, 5*time.Second, 5*time.Millisecond)

	archived := st.ArchivedSessions("host-1")
	require.Len(t, archived, 1)
	assert.Equal(t, models.PhaseCompleted, archived[0].GameState.Phase)
}

func TestRuntimeClientBroadcast(t *testing.T) {
	st := store.NewMemoryStore()
	defer st.Close()
	srv := NewServer(quietLogger(), st, nil)
	defer srv.Shutdown()

	rt := srv.Runtime("host-1")
	id, out := rt.addClient()
	defer rt.removeClient(id)

	// The current (empty) snapshot arrives immediately.
	select {
	case msg := <-out:
		assert.Contains(t, string(msg), `"snapshot"`)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot frame")
	}

	_, err := rt.dispatcher.Submit(models.Command{Type: models.CmdInitializeGame, Payload: map[string]interface{}{
		"maxTickets":        6,
		"selectedTicketSet": 1,
		"callDelaySeconds":  5,
		"prizes":            map[string]bool{"fullHouse": true},
	}})
	require.NoError(t, err)

	// Both the result frame and the new snapshot show up; order between the
	// two streams is not fixed.
	sawSnapshot := false
	sawResult := false
	deadline := time.After(5 * time.Second)
	for !sawSnapshot || !sawResult {
		select {
		case msg := <-out:
			str := string(msg)
			switch {
			case strings.Contains(str, `"command_result"`):
				sawResult = true
			case strings.Contains(str, `"snapshot"`) && strings.Contains(str, `"activeTickets"`):
				sawSnapshot = true
			}
		case <-deadline:
			t.Fatalf("missing frames: snapshot=%v result=%v", sawSnapshot, sawResult)
		}
	}
}
