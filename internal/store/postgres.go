// internal/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tambola-live/tambola-service/internal/models"
)

// PostgresStore persists each host's current game as a JSONB document plus
// an applied-command ledger that makes every write conditional on its
// command id. Change fan-out stays in-process: there is a single active
// writer per session, so the committing process always knows the new state.
type PostgresStore struct {
	pool *pgxpool.Pool
	hub  *watchHub

	// watchMu serializes Watch's snapshot-then-subscribe against the
	// post-commit publishes, so no committed write lands between the two.
	watchMu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS host_games (
	host_id     TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS applied_commands (
	host_id     TEXT NOT NULL,
	command_id  UUID NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (host_id, command_id)
);
CREATE TABLE IF NOT EXISTS archived_sessions (
	host_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	doc         JSONB NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (host_id, session_id)
);
`

// ConnectPostgres builds a PostgresStore from the POSTGRES_USER /
// POSTGRES_PASSWORD / PG_HOST / PG_PORT / PG_DATABASE environment variables
// and ensures the schema exists.
func ConnectPostgres(ctx context.Context) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("PG_HOST"),
		os.Getenv("PG_PORT"),
		os.Getenv("PG_DATABASE"),
	)
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("db ping: %w", err))
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("ensure schema: %w", err))
	}
	return &PostgresStore{pool: pool, hub: newWatchHub()}, nil
}

func (p *PostgresStore) Session(ctx context.Context, hostID string) (*models.GameSession, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM host_games WHERE host_id = $1`, hostID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	var sess models.GameSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session doc for host %s: %w", hostID, err)
	}
	return &sess, nil
}

func (p *PostgresStore) ApplyCommand(ctx context.Context, hostID string, commandID uuid.UUID, updates []Update) (*models.GameSession, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO applied_commands (host_id, command_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		hostID, commandID)
	if err != nil {
		return nil, classify(err)
	}
	if tag.RowsAffected() == 0 {
		current, serr := p.Session(ctx, hostID)
		if serr != nil {
			return nil, serr
		}
		return current, ErrAlreadyApplied
	}

	var current *models.GameSession
	var raw []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM host_games WHERE host_id = $1 FOR UPDATE`, hostID).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// first write for this host
	case err != nil:
		return nil, classify(err)
	default:
		current = &models.GameSession{}
		if err := json.Unmarshal(raw, current); err != nil {
			return nil, fmt.Errorf("decode session doc for host %s: %w", hostID, err)
		}
	}

	next, err := applyUpdates(current, updates)
	if err != nil {
		return nil, err
	}

	if next == nil {
		if _, err := tx.Exec(ctx, `DELETE FROM host_games WHERE host_id = $1`, hostID); err != nil {
			return nil, classify(err)
		}
	} else {
		doc, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("marshal session doc: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO host_games (host_id, doc, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (host_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
			hostID, doc)
		if err != nil {
			return nil, classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}

	p.watchMu.Lock()
	p.hub.publish(hostID, next)
	p.watchMu.Unlock()
	return next, nil
}

func (p *PostgresStore) Applied(ctx context.Context, hostID string, commandID uuid.UUID) (bool, error) {
	var one int
	err := p.pool.QueryRow(ctx,
		`SELECT 1 FROM applied_commands WHERE host_id = $1 AND command_id = $2`,
		hostID, commandID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func (p *PostgresStore) ArchiveSession(ctx context.Context, hostID string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM host_games WHERE host_id = $1 FOR UPDATE`, hostID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoSession
	}
	if err != nil {
		return classify(err)
	}
	var sess models.GameSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return fmt.Errorf("decode session doc for host %s: %w", hostID, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO archived_sessions (host_id, session_id, doc) VALUES ($1, $2, $3)
		ON CONFLICT (host_id, session_id) DO NOTHING`,
		hostID, sess.ID, raw)
	if err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM host_games WHERE host_id = $1`, hostID); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}

	p.watchMu.Lock()
	p.hub.publish(hostID, nil)
	p.watchMu.Unlock()
	return nil
}

func (p *PostgresStore) Watch(ctx context.Context, hostID string) (<-chan *models.GameSession, func()) {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	current, err := p.Session(ctx, hostID)
	if err != nil {
		current = nil
	}
	return p.hub.subscribe(ctx, hostID, current)
}

// Close releases the pool and closes all watch channels.
func (p *PostgresStore) Close() {
	p.hub.closeAll()
	p.pool.Close()
}

// classify tags connectivity and timeout failures as transient so the
// dispatcher retries them; everything else is permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}
	if pgconn.Timeout(err) {
		return Transient(err)
	}
	return err
}
