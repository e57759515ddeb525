// internal/handlers/server.go
package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/cache"
	"github.com/tambola-live/tambola-service/internal/dispatcher"
	"github.com/tambola-live/tambola-service/internal/game"
	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

// Server owns one engine runtime per host: a dispatcher, a number-calling
// scheduler and a store subscription feeding both. Runtimes are created
// lazily on first use and torn down on Shutdown.
type Server struct {
	Log   *logrus.Logger
	Store store.Store
	Audit *cache.Publisher

	mu       sync.Mutex
	runtimes map[string]*hostRuntime
}

func NewServer(logger *logrus.Logger, st store.Store, audit *cache.Publisher) *Server {
	return &Server{
		Log:      logger,
		Store:    st,
		Audit:    audit,
		runtimes: make(map[string]*hostRuntime),
	}
}

// Runtime returns the engine runtime for hostID, starting it if needed.
func (s *Server) Runtime(hostID string) *hostRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.runtimes[hostID]; ok {
		return rt
	}
	rt := newHostRuntime(s, hostID)
	s.runtimes[hostID] = rt
	return rt
}

// Shutdown stops every host runtime.
func (s *Server) Shutdown() {
	s.mu.Lock()
	runtimes := make([]*hostRuntime, 0, len(s.runtimes))
	for _, rt := range s.runtimes {
		runtimes = append(runtimes, rt)
	}
	s.runtimes = map[string]*hostRuntime{}
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.stop()
	}
}

// hostRuntime wires one host's dispatcher, scheduler and snapshot fan-out.
// Snapshots from the store are the only truth the scheduler and clients see.
type hostRuntime struct {
	hostID     string
	log        *logrus.Logger
	dispatcher *dispatcher.Dispatcher
	scheduler  *game.Scheduler

	mu         sync.Mutex
	latest     *models.GameSession
	clients    map[int]chan []byte
	nextClient int

	cancelWatch func()
	done        chan struct{}
}

func newHostRuntime(s *Server, hostID string) *hostRuntime {
	rt := &hostRuntime{
		hostID:  hostID,
		log:     s.Log,
		clients: make(map[int]chan []byte),
		done:    make(chan struct{}),
	}
	rt.dispatcher = dispatcher.New(s.Log, s.Store, s.Audit, hostID)
	rt.scheduler = game.NewScheduler(s.Log, rt.dispatcher.Submit)

	snapshots, cancel := s.Store.Watch(context.Background(), hostID)
	rt.cancelWatch = cancel

	go rt.watchLoop(snapshots)
	go rt.resultLoop()
	return rt
}

func (rt *hostRuntime) watchLoop(snapshots <-chan *models.GameSession) {
	for snap := range snapshots {
		rt.mu.Lock()
		rt.latest = snap
		rt.mu.Unlock()

		rt.scheduler.Observe(snap)
		rt.broadcast(snapshotMessage(snap))
	}
}

func (rt *hostRuntime) resultLoop() {
	defer close(rt.done)
	for res := range rt.dispatcher.Results() {
		if res.Err != nil && res.Command.Type == models.CmdCallNumber {
			// The failed call produced no snapshot; make sure calling
			// does not stall waiting for one.
			rt.scheduler.Poke()
		}
		rt.broadcast(resultMessage(res))
	}
}

func (rt *hostRuntime) stop() {
	rt.scheduler.Stop()
	rt.cancelWatch()
	rt.dispatcher.Stop()
	<-rt.done

	rt.mu.Lock()
	for id, ch := range rt.clients {
		close(ch)
		delete(rt.clients, id)
	}
	rt.mu.Unlock()
}

// Latest returns the most recent authoritative snapshot (nil when the host
// has no game in progress).
func (rt *hostRuntime) Latest() *models.GameSession {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.latest
}

// addClient registers a websocket consumer and immediately queues the
// current snapshot for it.
func (rt *hostRuntime) addClient() (int, <-chan []byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	id := rt.nextClient
	rt.nextClient++
	ch := make(chan []byte, 32)
	rt.clients[id] = ch
	ch <- snapshotMessage(rt.latest)
	return id, ch
}

func (rt *hostRuntime) removeClient(id int) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if ch, ok := rt.clients[id]; ok {
		delete(rt.clients, id)
		close(ch)
	}
}

// broadcast pushes a message to every client non-blockingly; slow clients
// are dropped rather than allowed to stall the engine loops.
func (rt *hostRuntime) broadcast(msg []byte) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for id, ch := range rt.clients {
		select {
		case ch <- msg:
		default:
			rt.log.WithFields(logrus.Fields{
				"host_id":   rt.hostID,
				"client_id": id,
			}).Warn("ws client too slow, dropping")
			delete(rt.clients, id)
			close(ch)
		}
	}
}

func snapshotMessage(snap *models.GameSession) []byte {
	msg, err := json.Marshal(map[string]interface{}{
		"type":    "snapshot",
		"session": snap,
	})
	if err != nil {
		logrus.Errorf("failed to marshal snapshot: %v", err)
		return []byte(`{"type":"snapshot","session":null}`)
	}
	return msg
}

func resultMessage(res models.CommandResult) []byte {
	payload := map[string]interface{}{
		"type":      "command_result",
		"commandId": res.Command.ID.String(),
		"command":   res.Command.Type,
	}
	if res.Err != nil {
		payload["error"] = res.ErrMsg
		payload["kind"] = string(game.KindOf(res.Err))
	} else if res.Data != nil {
		payload["data"] = res.Data
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		logrus.Errorf("failed to marshal command result: %v", err)
		return []byte(`{"type":"command_result"}`)
	}
	return msg
}
