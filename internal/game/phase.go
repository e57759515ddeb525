// internal/game/phase.go
package game

import (
	"github.com/tambola-live/tambola-service/internal/models"
)

// phaseTable maps each command type to the phases it may run in. A command
// whose current phase is not listed fails with a StateTransitionError before
// any mutation happens. InitializeGame is absent: it is the only command
// valid with no session at all (and may re-run while still in Setup).
var phaseTable = map[models.CommandType][]models.Phase{
	models.CmdStartBooking:      {models.PhaseSetup},
	models.CmdStartPlaying:      {models.PhaseBooking},
	models.CmdCompleteGame:      {models.PhasePlaying},
	models.CmdReturnToSetup:     {models.PhaseBooking},
	models.CmdCreateBooking:     {models.PhaseBooking},
	models.CmdUpdateBooking:     {models.PhaseBooking},
	models.CmdCancelBooking:     {models.PhaseBooking},
	models.CmdRegenerateTickets: {models.PhaseSetup, models.PhaseBooking},
	models.CmdCallNumber:        {models.PhasePlaying},
	models.CmdPauseCalling:      {models.PhasePlaying},
	models.CmdResumeCalling:     {models.PhasePlaying},
	models.CmdSetCallDelay:      {models.PhaseSetup, models.PhaseBooking, models.PhasePlaying},
	models.CmdUpdateSettings:    {models.PhaseSetup, models.PhaseBooking, models.PhasePlaying},
}

// checkPhase validates cmd against the current session phase.
func checkPhase(s *models.GameSession, cmdType models.CommandType) error {
	if cmdType == models.CmdInitializeGame {
		if s != nil && s.GameState.Phase != models.PhaseSetup {
			return TransitionErrorf("initialize_game not allowed in phase %s", s.GameState.Phase)
		}
		return nil
	}
	if s == nil {
		return TransitionErrorf("%s requires an initialized session", cmdType)
	}
	allowed, ok := phaseTable[cmdType]
	if !ok {
		return ValidationErrorf("unknown command type %q", cmdType)
	}
	for _, p := range allowed {
		if s.GameState.Phase == p {
			return nil
		}
	}
	return TransitionErrorf("%s not allowed in phase %s", cmdType, s.GameState.Phase)
}
