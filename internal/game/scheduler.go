// internal/game/scheduler.go
package game

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/models"
)

// Submitter hands a command to the dispatcher and returns its id.
type Submitter func(models.Command) (uuid.UUID, error)

// Scheduler drives number calling. It consumes authoritative snapshots via
// Observe and, while the session is playing and active, keeps one pending
// tick armed. Each tick draws a random undrawn number and submits a
// call_number command; the resulting snapshot re-arms the next tick, so the
// interval always reflects the delay current at arming time. Pause,
// completion and all-prizes-won cancel the pending tick.
type Scheduler struct {
	log     *logrus.Entry
	submit  Submitter
	DelayFn func(*models.GameSession) time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	latest  *models.GameSession
	rng     *rand.Rand
	stopped bool
}

func NewScheduler(logger *logrus.Logger, submit Submitter) *Scheduler {
	return &Scheduler{
		log:    logger.WithField("component", "scheduler"),
		submit: submit,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		DelayFn: func(s *models.GameSession) time.Duration {
			d := s.NumberSystem.CallDelaySeconds
			if d < 3 {
				d = 3
			}
			return time.Duration(d) * time.Second
		},
	}
}

// Observe feeds the scheduler a new authoritative snapshot (nil when the
// session is cleared).
func (s *Scheduler) Observe(sess *models.GameSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = sess
	s.rearmLocked()
}

// Poke re-evaluates the latest snapshot, re-arming the tick if calling
// should be running. Used after a call_number command fails so a lost
// snapshot cannot stall calling.
func (s *Scheduler) Poke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rearmLocked()
}

func (s *Scheduler) rearmLocked() {
	if s.stopped {
		return
	}
	if !shouldCall(s.latest) {
		s.cancelLocked()
		return
	}
	if s.timer != nil {
		// A tick is already pending; a changed delay applies from the
		// next arming, not retroactively.
		return
	}
	d := s.DelayFn(s.latest)
	s.timer = time.AfterFunc(d, s.fire)
}

// Stop tears the scheduler down with the session; no further ticks fire.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.timer = nil
	sess := s.latest
	if s.stopped || !shouldCall(sess) {
		s.mu.Unlock()
		return
	}
	remaining := sess.NumberSystem.Remaining()
	n := remaining[s.rng.Intn(len(remaining))]
	s.mu.Unlock()

	cmd := models.Command{
		Type:    models.CmdCallNumber,
		Payload: map[string]interface{}{"number": n},
	}
	if _, err := s.submit(cmd); err != nil {
		s.log.WithError(err).Warn("failed to submit call_number")
		s.Poke()
	}
}

// shouldCall is the scheduler's gate: playing, active, and not finished.
func shouldCall(sess *models.GameSession) bool {
	return sess != nil &&
		sess.GameState.Phase == models.PhasePlaying &&
		sess.GameState.Status == models.StatusActive &&
		!sess.CallingDone()
}
