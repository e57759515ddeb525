// internal/models/command.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// CommandType enumerates every state-mutating intent the engine accepts.
type CommandType string

const (
	CmdInitializeGame    CommandType = "initialize_game"
	CmdStartBooking      CommandType = "start_booking_phase"
	CmdStartPlaying      CommandType = "start_playing_phase"
	CmdCompleteGame      CommandType = "complete_game"
	CmdReturnToSetup     CommandType = "return_to_setup"
	CmdCreateBooking     CommandType = "create_booking"
	CmdUpdateBooking     CommandType = "update_booking"
	CmdCancelBooking     CommandType = "cancel_booking"
	CmdRegenerateTickets CommandType = "regenerate_tickets"
	CmdCallNumber        CommandType = "call_number"
	CmdPauseCalling      CommandType = "pause_calling"
	CmdResumeCalling     CommandType = "resume_calling"
	CmdSetCallDelay      CommandType = "set_call_delay"
	CmdUpdateSettings    CommandType = "update_settings"
)

// Command is a queued intent to mutate session state. Consumed once by the
// dispatcher and never mutated after submission; the store write is keyed on
// ID so a retried submission cannot double-apply.
type Command struct {
	ID        uuid.UUID              `json:"id"`
	Type      CommandType            `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// CommandResult is emitted on the dispatcher's single result stream once a
// command has resolved. Err is nil on success; Data carries command-specific
// output (e.g. the drawn number, the archived session id).
type CommandResult struct {
	Command Command                `json:"command"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     error                  `json:"-"`
	ErrMsg  string                 `json:"error,omitempty"`
}
