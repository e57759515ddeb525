// internal/store/watch.go
package store

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/models"
)

// watchHub fans each host's document changes out to its subscribers. Both
// store implementations embed one: with a single active writer per session,
// in-process fan-out after a committed write is authoritative.
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan *models.GameSession
	next int
}

func newWatchHub() *watchHub {
	return &watchHub{subs: make(map[string]map[int]chan *models.GameSession)}
}

// subscribe registers a watcher for hostID and sends current immediately.
func (h *watchHub) subscribe(ctx context.Context, hostID string, current *models.GameSession) (<-chan *models.GameSession, func()) {
	ch := make(chan *models.GameSession, 16)
	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[hostID] == nil {
		h.subs[hostID] = make(map[int]chan *models.GameSession)
	}
	h.subs[hostID][id] = ch
	h.mu.Unlock()

	ch <- current

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[hostID][id]; ok {
			delete(h.subs[hostID], id)
			close(sub)
		}
		h.mu.Unlock()
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

// publish pushes a snapshot to every subscriber of hostID. Slow subscribers
// are dropped rather than allowed to stall the writer.
func (h *watchHub) publish(hostID string, snapshot *models.GameSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs[hostID] {
		select {
		case ch <- snapshot:
		default:
			log.Warnf("store watcher %d for host %s too slow, dropping subscription", id, hostID)
			delete(h.subs[hostID], id)
			close(ch)
		}
	}
}

func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for hostID, subs := range h.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
		delete(h.subs, hostID)
	}
}
