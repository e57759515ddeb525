// internal/handlers/game_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/tambola-live/tambola-service/internal/auth"
	"github.com/tambola-live/tambola-service/internal/middleware"
	"github.com/tambola-live/tambola-service/internal/models"
)

// wsCommand is the shape of an incoming websocket message. Type carries
// the engine command name directly, e.g. {"type": "call_number"}.
type wsCommand struct {
	Type    models.CommandType     `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// GameWSHandler upgrades the connection for the authenticated host and
// streams snapshots and command results to it. Incoming messages are
// engine commands, acknowledged with a command_accepted frame and
// resolved asynchronously via command_result frames.
func (s *Server) GameWSHandler(w http.ResponseWriter, r *http.Request) {
	hostID, err := auth.HostID(r)
	if err != nil {
		http.Error(w, "invalid host token", http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"tambola"},
		OriginPatterns: []string{"*"}, // Adjust for production security.
	})
	if err != nil {
		s.Log.Warnf("websocket accept error for host %s: %v", hostID, err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "internal error")

	if c.Subprotocol() != "tambola" {
		c.Close(websocket.StatusPolicyViolation, "client must use the 'tambola' subprotocol")
		return
	}
	middleware.LogWebSocketConnect(s.Log, hostID, r.RemoteAddr)

	rt := s.Runtime(hostID)
	clientID, out := rt.addClient()
	defer rt.removeClient(clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer: drains the runtime broadcast channel onto the socket.
	writeErr := make(chan error, 1)
	go func() {
		for msg := range out {
			if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
				writeErr <- err
				cancel()
				return
			}
		}
		writeErr <- nil
	}()

	// Reader: each frame is a command submission.
	var readErr error
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			readErr = err
			break
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			s.wsReject(ctx, c, "malformed command frame")
			continue
		}
		id, err := rt.dispatcher.Submit(models.Command{Type: cmd.Type, Payload: cmd.Payload})
		if err != nil {
			s.wsReject(ctx, c, err.Error())
			continue
		}
		ack, _ := json.Marshal(map[string]interface{}{
			"type":      "command_accepted",
			"commandId": id.String(),
			"command":   cmd.Type,
		})
		if err := c.Write(ctx, websocket.MessageText, ack); err != nil {
			readErr = err
			break
		}
	}

	cancel()
	rt.removeClient(clientID)
	<-writeErr
	middleware.LogWebSocketDisconnect(s.Log, hostID, r.RemoteAddr, readErr)
	c.Close(websocket.StatusNormalClosure, "closing")
}

func (s *Server) wsReject(ctx context.Context, c *websocket.Conn, msg string) {
	frame, _ := json.Marshal(map[string]string{
		"type":  "command_rejected",
		"error": msg,
	})
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		s.Log.Debugf("failed to write rejection frame: %v", err)
	}
}
