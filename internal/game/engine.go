// internal/game/engine.go
package game

import (
	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

// Effect is the outcome of applying one command: the partial-path updates to
// submit to the store, command-specific result data, and whether the session
// should be archived (copied, then cleared) after the updates commit.
type Effect struct {
	Updates []store.Update
	Data    map[string]interface{}
	Archive bool
}

// Apply validates cmd against the current session snapshot and produces the
// mutation it implies. It is a pure function: the snapshot is never touched,
// the phase check happens before anything else, and no I/O occurs, so the
// dispatcher can safely retry the resulting effect against the store.
func Apply(hostID string, s *models.GameSession, cmd models.Command) (*Effect, error) {
	if err := checkPhase(s, cmd.Type); err != nil {
		return nil, err
	}

	switch cmd.Type {
	case models.CmdInitializeGame:
		return applyInitialize(hostID, cmd)
	case models.CmdStartBooking:
		return applyStartBooking(s)
	case models.CmdStartPlaying:
		return applyStartPlaying(s, cmd)
	case models.CmdCompleteGame:
		return applyCompleteGame(s)
	case models.CmdReturnToSetup:
		return applyReturnToSetup(s)
	case models.CmdCreateBooking, models.CmdUpdateBooking, models.CmdCancelBooking:
		return applyBookingCommand(s, cmd)
	case models.CmdRegenerateTickets:
		return applyRegenerateTickets(s, cmd)
	case models.CmdCallNumber:
		return applyCallNumber(s, cmd)
	case models.CmdPauseCalling:
		return &Effect{Updates: []store.Update{store.Set("gameState.status", models.StatusPaused)}}, nil
	case models.CmdResumeCalling:
		if s.CallingDone() {
			return nil, TransitionErrorf("calling is finished; complete the game")
		}
		return &Effect{Updates: []store.Update{store.Set("gameState.status", models.StatusActive)}}, nil
	case models.CmdSetCallDelay:
		return applySetCallDelay(s, cmd)
	case models.CmdUpdateSettings:
		return applyUpdateSettings(s, cmd)
	}
	return nil, ValidationErrorf("unknown command type %q", cmd.Type)
}

func applyInitialize(hostID string, cmd models.Command) (*Effect, error) {
	settings, err := settingsFromPayload(cmd.Payload)
	if err != nil {
		return nil, err
	}

	tickets := GenerateTickets(settings.SelectedTicketSet, settings.MaxTickets)
	session := models.GameSession{
		ID:       cmd.ID.String(),
		HostID:   hostID,
		Settings: settings,
		GameState: models.GameState{
			Phase:   models.PhaseSetup,
			Status:  models.StatusPaused,
			Winners: map[models.PrizeType][]string{},
		},
		NumberSystem: models.NumberSystem{
			CalledNumbers:    []int{},
			CallDelaySeconds: settings.CallDelaySeconds,
		},
		ActiveTickets: tickets,
		Players:       map[string]*models.Player{},
	}
	return &Effect{
		Updates: []store.Update{store.Set("", session)},
		Data: map[string]interface{}{
			"sessionId":   session.ID,
			"ticketCount": len(tickets),
		},
	}, nil
}

func applyStartBooking(s *models.GameSession) (*Effect, error) {
	if len(s.ActiveTickets) == 0 {
		return nil, TransitionErrorf("cannot open booking with no tickets generated")
	}
	return &Effect{Updates: []store.Update{
		store.Set("gameState.phase", models.PhaseBooking),
	}}, nil
}

func applyStartPlaying(s *models.GameSession, cmd models.Command) (*Effect, error) {
	if s.BookingCount() == 0 {
		return nil, TransitionErrorf("cannot start playing with zero bookings")
	}
	return &Effect{Updates: []store.Update{
		store.Set("gameState.phase", models.PhasePlaying),
		store.Set("gameState.status", models.StatusActive),
		store.Set("startTime", cmd.CreatedAt),
	}}, nil
}

func applyCompleteGame(s *models.GameSession) (*Effect, error) {
	return &Effect{
		Updates: []store.Update{
			store.Set("gameState.phase", models.PhaseCompleted),
			store.Set("gameState.status", models.StatusPaused),
		},
		Data:    map[string]interface{}{"sessionId": s.ID},
		Archive: true,
	}, nil
}

func applyReturnToSetup(s *models.GameSession) (*Effect, error) {
	return &Effect{Updates: []store.Update{
		store.Set("gameState", models.GameState{
			Phase:   models.PhaseSetup,
			Status:  models.StatusPaused,
			Winners: map[models.PrizeType][]string{},
		}),
		store.Set("activeTickets", map[string]*models.TicketEntry{}),
		store.Set("players", map[string]*models.Player{}),
		store.Set("numberSystem", models.NumberSystem{
			CalledNumbers:    []int{},
			CallDelaySeconds: s.Settings.CallDelaySeconds,
		}),
		store.Del("startTime"),
	}}, nil
}

func applyBookingCommand(s *models.GameSession, cmd models.Command) (*Effect, error) {
	ids, err := stringSliceField(cmd.Payload, "ticketIds")
	if err != nil {
		return nil, err
	}
	var updates []store.Update
	switch cmd.Type {
	case models.CmdCreateBooking:
		updates, err = createBooking(s, stringField(cmd.Payload, "playerName"), stringField(cmd.Payload, "phoneNumber"), ids, cmd.CreatedAt)
	case models.CmdUpdateBooking:
		updates, err = updateBooking(s, stringField(cmd.Payload, "playerName"), stringField(cmd.Payload, "phoneNumber"), ids)
	case models.CmdCancelBooking:
		updates, err = cancelBooking(s, ids)
	}
	if err != nil {
		return nil, err
	}
	return &Effect{
		Updates: updates,
		Data:    map[string]interface{}{"ticketIds": ids},
	}, nil
}

func applyRegenerateTickets(s *models.GameSession, cmd models.Command) (*Effect, error) {
	setIndex, err := intField(cmd.Payload, "selectedTicketSet")
	if err != nil {
		return nil, err
	}
	maxTickets, err := intField(cmd.Payload, "maxTickets")
	if err != nil {
		return nil, err
	}
	if err := validateTicketParams(setIndex, maxTickets); err != nil {
		return nil, err
	}

	tickets := GenerateTickets(setIndex, maxTickets)
	return &Effect{
		Updates: []store.Update{
			store.Set("settings.selectedTicketSet", setIndex),
			store.Set("settings.maxTickets", maxTickets),
			store.Set("activeTickets", tickets),
			store.Set("players", map[string]*models.Player{}),
		},
		Data: map[string]interface{}{"ticketCount": len(tickets)},
	}, nil
}

func applyCallNumber(s *models.GameSession, cmd models.Command) (*Effect, error) {
	if s.CallingDone() {
		return nil, TransitionErrorf("calling is finished")
	}
	n, err := intField(cmd.Payload, "number")
	if err != nil {
		return nil, err
	}
	if n < 1 || n > 90 {
		return nil, ValidationErrorf("number %d out of range 1-90", n)
	}
	if s.NumberSystem.Called(n) {
		return nil, ValidationErrorf("number %d was already called", n)
	}

	called := make([]int, 0, len(s.NumberSystem.CalledNumbers)+1)
	called = append(called, s.NumberSystem.CalledNumbers...)
	called = append(called, n)

	// Evaluate prizes against the post-call state so winners land in the
	// same atomic mutation as the call itself.
	next := *s
	next.NumberSystem.CalledNumbers = called
	next.NumberSystem.CurrentNumber = &n
	newly := EvaluatePrizes(&next)

	updates := []store.Update{
		store.Set("numberSystem.calledNumbers", called),
		store.Set("numberSystem.currentNumber", n),
	}
	winners := map[string][]string{}
	for pt, ids := range newly {
		updates = append(updates, store.Set("gameState.winners."+string(pt), ids))
		winners[string(pt)] = ids
	}

	data := map[string]interface{}{
		"number":    n,
		"callsMade": len(called),
	}
	if len(winners) > 0 {
		data["winners"] = winners
	}
	return &Effect{Updates: updates, Data: data}, nil
}

func applySetCallDelay(s *models.GameSession, cmd models.Command) (*Effect, error) {
	delay, err := intField(cmd.Payload, "callDelaySeconds")
	if err != nil {
		return nil, err
	}
	if delay < 3 || delay > 20 {
		return nil, ValidationErrorf("callDelaySeconds %d out of range 3-20", delay)
	}
	return &Effect{Updates: []store.Update{
		store.Set("settings.callDelaySeconds", delay),
		store.Set("numberSystem.callDelaySeconds", delay),
	}}, nil
}

// applyUpdateSettings mutates the mutable subset of settings. Once the
// Playing phase starts only callDelaySeconds and soundEnabled may change.
func applyUpdateSettings(s *models.GameSession, cmd models.Command) (*Effect, error) {
	playing := s.GameState.Phase == models.PhasePlaying
	var updates []store.Update

	for key, raw := range cmd.Payload {
		switch key {
		case "callDelaySeconds":
			delay, err := intField(cmd.Payload, key)
			if err != nil {
				return nil, err
			}
			if delay < 3 || delay > 20 {
				return nil, ValidationErrorf("callDelaySeconds %d out of range 3-20", delay)
			}
			updates = append(updates,
				store.Set("settings.callDelaySeconds", delay),
				store.Set("numberSystem.callDelaySeconds", delay))
		case "soundEnabled":
			b, ok := raw.(bool)
			if !ok {
				return nil, ValidationErrorf("soundEnabled must be a boolean")
			}
			updates = append(updates, store.Set("settings.soundEnabled", b))
		case "hostPhone":
			if playing {
				return nil, ValidationErrorf("hostPhone is immutable while playing")
			}
			sv, ok := raw.(string)
			if !ok {
				return nil, ValidationErrorf("hostPhone must be a string")
			}
			updates = append(updates, store.Set("settings.hostPhone", sv))
		case "prizes":
			if playing {
				return nil, ValidationErrorf("prizes are immutable while playing")
			}
			prizes, err := prizeMapField(cmd.Payload)
			if err != nil {
				return nil, err
			}
			if err := validatePrizes(prizes); err != nil {
				return nil, err
			}
			updates = append(updates, store.Set("settings.prizes", prizes))
		default:
			return nil, ValidationErrorf("setting %q cannot be changed with update_settings", key)
		}
	}
	if len(updates) == 0 {
		return nil, ValidationErrorf("update_settings requires at least one setting")
	}
	return &Effect{Updates: updates}, nil
}

func validateTicketParams(setIndex, maxTickets int) error {
	if setIndex < 1 || setIndex > MaxTicketSets {
		return ValidationErrorf("selectedTicketSet %d out of range 1-%d", setIndex, MaxTicketSets)
	}
	if maxTickets < 1 || maxTickets > MaxTicketsPerSession {
		return ValidationErrorf("maxTickets %d out of range 1-%d", maxTickets, MaxTicketsPerSession)
	}
	return nil
}

func validatePrizes(prizes map[models.PrizeType]bool) error {
	enabled := 0
	for pt, on := range prizes {
		known := false
		for _, k := range models.AllPrizeTypes {
			if pt == k {
				known = true
				break
			}
		}
		if !known {
			return ValidationErrorf("unknown prize type %q", pt)
		}
		if on {
			enabled++
		}
	}
	if enabled == 0 {
		return ValidationErrorf("at least one prize must be enabled")
	}
	if prizes[models.PrizeSecondFullHouse] && !prizes[models.PrizeFullHouse] {
		return ValidationErrorf("secondFullHouse requires fullHouse to be enabled")
	}
	return nil
}

func settingsFromPayload(payload map[string]interface{}) (models.Settings, error) {
	var zero models.Settings
	maxTickets, err := intField(payload, "maxTickets")
	if err != nil {
		return zero, err
	}
	setIndex, err := intField(payload, "selectedTicketSet")
	if err != nil {
		return zero, err
	}
	if err := validateTicketParams(setIndex, maxTickets); err != nil {
		return zero, err
	}
	delay, err := intField(payload, "callDelaySeconds")
	if err != nil {
		return zero, err
	}
	if delay < 3 || delay > 20 {
		return zero, ValidationErrorf("callDelaySeconds %d out of range 3-20", delay)
	}
	prizes, err := prizeMapField(payload)
	if err != nil {
		return zero, err
	}
	if err := validatePrizes(prizes); err != nil {
		return zero, err
	}

	settings := models.Settings{
		MaxTickets:        maxTickets,
		SelectedTicketSet: setIndex,
		CallDelaySeconds:  delay,
		HostPhone:         stringField(payload, "hostPhone"),
		Prizes:            prizes,
	}
	if b, ok := payload["soundEnabled"].(bool); ok {
		settings.SoundEnabled = b
	}
	return settings, nil
}
