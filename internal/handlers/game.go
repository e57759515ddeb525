// internal/handlers/game.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/auth"
	"github.com/tambola-live/tambola-service/internal/models"
)

// HostTokenHandler issues a signed host token. Bodies carry an optional
// hostId; when absent a phone-number style identifier must be supplied.
//
// POST /host/token {"hostId": "..."}
func (s *Server) HostTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HostID string `json:"hostId"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.HostID) == "" {
		writeError(w, http.StatusBadRequest, "hostId required")
		return
	}
	token, err := auth.CreateHostToken(req.HostID)
	if err != nil {
		s.Log.WithError(err).Error("failed to sign host token")
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"hostId": req.HostID,
		"token":  token,
	})
}

// GameStateHandler returns the authoritative snapshot plus dispatcher
// status for the authenticated host.
//
// GET /game/state
func (s *Server) GameStateHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	rt := s.Runtime(hostID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":      rt.Latest(),
		"isProcessing": rt.dispatcher.IsProcessing(),
		"queueLength":  rt.dispatcher.QueueLen(),
		"lastError":    rt.dispatcher.LastError(),
	})
}

// CommandHandler accepts any engine command for asynchronous processing.
// The reply acknowledges receipt; the outcome arrives on the websocket
// stream (or can be inferred from the next /game/state snapshot).
//
// POST /game/command {"type": "...", "payload": {...}}
func (s *Server) CommandHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var req struct {
		Type    models.CommandType     `json:"type"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed command body")
		return
	}
	s.submitCommand(w, hostID, req.Type, req.Payload)
}

// InitGameHandler creates (or, while still in Setup, replaces) the host's
// game session. The body is the initial settings payload.
//
// POST /game/init {"maxTickets": 90, "selectedTicketSet": 1, ...}
func (s *Server) InitGameHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.submitCommand(w, hostID, models.CmdInitializeGame, payload)
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// PhaseHandler exposes the lifecycle transitions as path parameters so
// clients do not need to spell raw command names.
//
// POST /game/phase/{transition} with transition one of
// booking|playing|complete|setup
func (s *Server) PhaseHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var cmdType models.CommandType
	switch chi.URLParam(r, "transition") {
	case "booking":
		cmdType = models.CmdStartBooking
	case "playing":
		cmdType = models.CmdStartPlaying
	case "complete":
		cmdType = models.CmdCompleteGame
	case "setup":
		cmdType = models.CmdReturnToSetup
	default:
		writeError(w, http.StatusNotFound, "unknown phase transition")
		return
	}
	s.submitCommand(w, hostID, cmdType, nil)
}

// CallingHandler controls the automatic number caller.
//
// POST /game/calling/{action} with action one of pause|resume
func (s *Server) CallingHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var cmdType models.CommandType
	switch chi.URLParam(r, "action") {
	case "pause":
		cmdType = models.CmdPauseCalling
	case "resume":
		cmdType = models.CmdResumeCalling
	default:
		writeError(w, http.StatusNotFound, "unknown calling action")
		return
	}
	s.submitCommand(w, hostID, cmdType, nil)
}

// CallDelayHandler adjusts the delay between automatic calls.
//
// PUT /game/calling/delay {"callDelaySeconds": 5}
func (s *Server) CallDelayHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.submitCommand(w, hostID, models.CmdSetCallDelay, payload)
}

// BookingHandler multiplexes the booking operations over HTTP verbs:
// POST creates, PUT edits metadata, DELETE cancels.
func (s *Server) BookingHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid host token")
		return
	}
	var payload map[string]interface{}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	var cmdType models.CommandType
	switch r.Method {
	case http.MethodPost:
		cmdType = models.CmdCreateBooking
	case http.MethodPut:
		cmdType = models.CmdUpdateBooking
	case http.MethodDelete:
		cmdType = models.CmdCancelBooking
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method")
		return
	}
	s.submitCommand(w, hostID, cmdType, payload)
}

func (s *Server) submitCommand(w http.ResponseWriter, hostID string, cmdType models.CommandType, payload map[string]interface{}) {
	rt := s.Runtime(hostID)
	id, err := rt.dispatcher.Submit(models.Command{Type: cmdType, Payload: payload})
	if err != nil {
		s.Log.WithFields(logrus.Fields{
			"host_id": hostID,
			"command": cmdType,
		}).WithError(err).Warn("command rejected at submit")
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"commandId": id.String(),
		"command":   cmdType,
	})
}
