// internal/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/cache"
	"github.com/tambola-live/tambola-service/internal/game"
	"github.com/tambola-live/tambola-service/internal/models"
	"github.com/tambola-live/tambola-service/internal/store"
)

var (
	ErrStopped   = errors.New("dispatcher stopped")
	ErrQueueFull = errors.New("command queue full")
)

const (
	queueSize   = 256
	resultsSize = 64
	maxAttempts = 3
	baseBackoff = 100 * time.Millisecond
)

// Dispatcher serializes every state-mutating command for one host. Submit
// returns the command id synchronously; a single worker applies commands to
// the store strictly in submission order. Transient store failures are
// retried with bounded exponential backoff, business-rule failures surface
// immediately, and either way the worker moves on to the next command. A
// failing command never stalls the queue.
type Dispatcher struct {
	log    *logrus.Entry
	st     store.Store
	audit  *cache.Publisher
	hostID string

	queue   chan models.Command
	results chan models.CommandResult

	mu         sync.Mutex
	pending    map[uuid.UUID]models.Command
	lastErr    string
	processing bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(logger *logrus.Logger, st store.Store, audit *cache.Publisher, hostID string) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		log:     logger.WithFields(logrus.Fields{"component": "dispatcher", "host": hostID}),
		st:      st,
		audit:   audit,
		hostID:  hostID,
		queue:   make(chan models.Command, queueSize),
		results: make(chan models.CommandResult, resultsSize),
		pending: make(map[uuid.UUID]models.Command),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Submit enqueues cmd and returns its id synchronously. A zero command id
// gets a dispatcher-generated one; CreatedAt is stamped if unset. The
// command is never mutated after this point.
func (d *Dispatcher) Submit(cmd models.Command) (uuid.UUID, error) {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}

	select {
	case <-d.ctx.Done():
		return uuid.Nil, ErrStopped
	default:
	}

	d.mu.Lock()
	d.pending[cmd.ID] = cmd
	d.mu.Unlock()

	select {
	case d.queue <- cmd:
		return cmd.ID, nil
	default:
		d.mu.Lock()
		delete(d.pending, cmd.ID)
		d.mu.Unlock()
		return uuid.Nil, ErrQueueFull
	}
}

// Results is the single stream of command outcomes, consumed by the engine
// runtime and the UI alike.
func (d *Dispatcher) Results() <-chan models.CommandResult { return d.results }

// IsProcessing reports whether a command is currently being applied.
func (d *Dispatcher) IsProcessing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processing
}

// QueueLen returns the number of commands waiting behind the current one.
func (d *Dispatcher) QueueLen() int { return len(d.queue) }

// LastError returns the message of the most recent failed command, empty
// after a success.
func (d *Dispatcher) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// Pending returns the optimistic echo for id, if the command has not yet
// resolved. Never treated as committed state.
func (d *Dispatcher) Pending(id uuid.UUID) (models.Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cmd, ok := d.pending[id]
	return cmd, ok
}

// Stop drains nothing: queued commands are abandoned, in-flight work
// completes, and the results channel closes.
func (d *Dispatcher) Stop() {
	d.cancel()
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	defer close(d.results)
	for {
		select {
		case <-d.ctx.Done():
			return
		case cmd := <-d.queue:
			d.setProcessing(true)
			d.execute(cmd)
			d.setProcessing(false)
		}
	}
}

func (d *Dispatcher) setProcessing(v bool) {
	d.mu.Lock()
	d.processing = v
	d.mu.Unlock()
}

func (d *Dispatcher) execute(cmd models.Command) {
	defer d.clearPending(cmd.ID)

	if d.audit.SeenCommand(d.ctx, d.hostID, cmd.ID) {
		d.log.WithField("command", cmd.ID).Debug("duplicate submission skipped")
		d.emit(models.CommandResult{Command: cmd, Data: map[string]interface{}{"duplicate": true}})
		return
	}

	// The store ledger is checked before validation: a resubmitted command
	// would otherwise be validated against the document it already changed
	// and rejected instead of acked as a duplicate.
	var seen bool
	if err := d.withRetry(cmd, "check command ledger", func() error {
		var serr error
		seen, serr = d.st.Applied(d.ctx, d.hostID, cmd.ID)
		return serr
	}); err != nil {
		d.fail(cmd, storeFailure(err))
		return
	}
	if seen {
		d.emit(models.CommandResult{Command: cmd, Data: map[string]interface{}{"duplicate": true}})
		return
	}

	var sess *models.GameSession
	if err := d.withRetry(cmd, "read session", func() error {
		var serr error
		sess, serr = d.st.Session(d.ctx, d.hostID)
		return serr
	}); err != nil {
		d.fail(cmd, storeFailure(err))
		return
	}

	effect, err := game.Apply(d.hostID, sess, cmd)
	if err != nil {
		d.fail(cmd, err)
		return
	}

	next, err := d.applyWithRetry(cmd, effect.Updates)
	if errors.Is(err, store.ErrAlreadyApplied) {
		d.emit(models.CommandResult{Command: cmd, Data: map[string]interface{}{"duplicate": true}})
		return
	}
	if err != nil {
		d.fail(cmd, storeFailure(err))
		return
	}

	if effect.Archive {
		if aerr := d.withRetry(cmd, "archive session", func() error {
			return d.st.ArchiveSession(d.ctx, d.hostID)
		}); aerr != nil {
			d.fail(cmd, storeFailure(aerr))
			return
		}
	}

	d.recordAudit(cmd, next)
	d.mu.Lock()
	d.lastErr = ""
	d.mu.Unlock()
	d.emit(models.CommandResult{Command: cmd, Data: effect.Data})
}

// applyWithRetry submits the conditional write, retrying transient failures
// with exponential backoff. The write is keyed on the command id, so a retry
// after an ambiguous failure can only ever apply once.
func (d *Dispatcher) applyWithRetry(cmd models.Command, updates []store.Update) (*models.GameSession, error) {
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		next, err := d.st.ApplyCommand(d.ctx, d.hostID, cmd.ID, updates)
		if err == nil || errors.Is(err, store.ErrAlreadyApplied) {
			return next, err
		}
		lastErr = err
		if !store.IsTransient(err) {
			return nil, err
		}
		d.log.WithError(err).WithFields(logrus.Fields{
			"command": cmd.ID, "attempt": attempt,
		}).Warn("transient store failure, backing off")
		if attempt < maxAttempts && d.sleep(backoff) != nil {
			return nil, lastErr
		}
		backoff *= 2
	}
	return nil, lastErr
}

// withRetry runs op with the same transient-failure policy as writes.
func (d *Dispatcher) withRetry(cmd models.Command, what string, op func() error) error {
	backoff := baseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !store.IsTransient(err) {
			return err
		}
		d.log.WithError(err).WithFields(logrus.Fields{
			"command": cmd.ID, "attempt": attempt, "op": what,
		}).Warn("transient store failure, backing off")
		if attempt < maxAttempts && d.sleep(backoff) != nil {
			return lastErr
		}
		backoff *= 2
	}
	return lastErr
}

func (d *Dispatcher) sleep(dur time.Duration) error {
	select {
	case <-time.After(dur):
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

func (d *Dispatcher) recordAudit(cmd models.Command, next *models.GameSession) {
	sessionID := ""
	if next != nil {
		sessionID = next.ID
	}
	rec := cache.CommandRecord{
		HostID:    d.hostID,
		SessionID: sessionID,
		CommandID: cmd.ID,
		Type:      string(cmd.Type),
		Payload:   cmd.Payload,
		Timestamp: time.Now().UnixMilli(),
	}
	if err := d.audit.PublishCommand(d.ctx, rec); err != nil {
		d.log.WithError(err).Warn("failed to publish command audit record")
	}
	d.audit.MarkCommand(d.ctx, d.hostID, cmd.ID)
}

// fail reports a classified failure on the result stream. The originating
// command travels with the error for traceability.
func (d *Dispatcher) fail(cmd models.Command, err error) {
	d.log.WithError(err).WithFields(logrus.Fields{
		"command": cmd.ID, "type": cmd.Type, "kind": game.KindOf(err),
	}).Warn("command failed")
	d.mu.Lock()
	d.lastErr = err.Error()
	d.mu.Unlock()
	d.emit(models.CommandResult{Command: cmd, Err: err, ErrMsg: err.Error()})
}

// emit pushes a result without ever blocking the worker. A full consumer
// loses the oldest results rather than stalling command processing.
func (d *Dispatcher) emit(res models.CommandResult) {
	select {
	case d.results <- res:
	default:
		select {
		case <-d.results:
		default:
		}
		select {
		case d.results <- res:
		default:
			d.log.Warn("result stream full, dropping result")
		}
	}
}

func (d *Dispatcher) clearPending(id uuid.UUID) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// storeFailure maps a raw store error into the engine taxonomy. Transient
// failures only reach here after retries are exhausted, so they are reported
// as permanent.
func storeFailure(err error) error {
	if err == nil {
		return nil
	}
	return game.StoreError(game.KindPermanentStore, err)
}
