// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tambola-live/tambola-service/internal/models"
)

// Update is one partial-path mutation of the host's current-game document.
// Path is a dotted JSON path ("gameState.phase", "activeTickets.3.booking");
// the empty path addresses the document root. Delete removes the node.
type Update struct {
	Path   string      `json:"path"`
	Value  interface{} `json:"value,omitempty"`
	Delete bool        `json:"delete,omitempty"`
}

// Set builds a set-update for path.
func Set(path string, value interface{}) Update {
	return Update{Path: path, Value: value}
}

// Del builds a delete-update for path.
func Del(path string) Update {
	return Update{Path: path, Delete: true}
}

var (
	// ErrAlreadyApplied signals the command id was applied by an earlier
	// submission. Callers treat it as idempotent success.
	ErrAlreadyApplied = errors.New("command already applied")

	// ErrNoSession signals the host has no current game document.
	ErrNoSession = errors.New("no current session")

	// ErrClosed signals the store has been shut down.
	ErrClosed = errors.New("store closed")
)

// TransientError marks a failure as retryable (timeout, connectivity).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient store error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Store is the single source of truth for one game-session document per
// host. Writes are conditioned on the command id so retries never
// double-apply; every change fans out to Watch subscribers.
type Store interface {
	// Session returns the current document for hostID, or (nil, nil) when
	// the host has no game in progress.
	Session(ctx context.Context, hostID string) (*models.GameSession, error)

	// ApplyCommand applies the partial-path updates atomically, conditioned
	// on commandID not having been applied before. Returns the resulting
	// document, or ErrAlreadyApplied.
	ApplyCommand(ctx context.Context, hostID string, commandID uuid.UUID, updates []Update) (*models.GameSession, error)

	// Applied reports whether commandID was already applied for hostID.
	// Resubmissions are acked as duplicates without re-running validation,
	// which would otherwise see the post-apply document and reject them.
	Applied(ctx context.Context, hostID string, commandID uuid.UUID) (bool, error)

	// ArchiveSession copies the current document into the host's session
	// archive and clears the current game.
	ArchiveSession(ctx context.Context, hostID string) error

	// Watch delivers the current document immediately and again on every
	// change (nil when the current game is cleared) until cancel is called
	// or ctx ends.
	Watch(ctx context.Context, hostID string) (<-chan *models.GameSession, func())
}
