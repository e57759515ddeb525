// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that receives applied-command records.
var DefaultQueueName = "tambola_commands"

// CommandRecord is the audit entry pushed for every applied command. The
// historian consumes these and persists them for replay/traceability.
type CommandRecord struct {
	HostID    string                 `json:"host_id"`
	SessionID string                 `json:"session_id,omitempty"`
	CommandID uuid.UUID              `json:"command_id"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// Publisher wraps the Redis client used for the command audit queue and the
// cross-restart command-id dedupe keys. A nil *Publisher is valid and turns
// every operation into a no-op, so Redis stays optional in development.
type Publisher struct {
	rdb       *redis.Client
	queue     string
	dedupeTTL time.Duration
}

// Connect initializes a Publisher from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
//   - COMMAND_QUEUE_NAME (default DefaultQueueName)
func Connect(ctx context.Context) (*Publisher, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   getEnvInt("REDIS_DB", 0),
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to Redis at %s: %w", addr, err)
	}
	return &Publisher{
		rdb:       rdb,
		queue:     getEnv("COMMAND_QUEUE_NAME", DefaultQueueName),
		dedupeTTL: 24 * time.Hour,
	}, nil
}

// PublishCommand pushes the audit record onto the queue.
func (p *Publisher) PublishCommand(ctx context.Context, rec CommandRecord) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal CommandRecord: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("RPush to %q: %w", p.queue, err)
	}
	return nil
}

// SeenCommand reports whether the command id was already marked applied for
// this host. Errors count as unseen; the store's own ledger is the real
// idempotency guarantee, this is only a fast path across restarts.
func (p *Publisher) SeenCommand(ctx context.Context, hostID string, commandID uuid.UUID) bool {
	if p == nil {
		return false
	}
	n, err := p.rdb.Exists(ctx, dedupeKey(hostID, commandID)).Result()
	return err == nil && n > 0
}

// MarkCommand records the command id as applied.
func (p *Publisher) MarkCommand(ctx context.Context, hostID string, commandID uuid.UUID) {
	if p == nil {
		return
	}
	p.rdb.Set(ctx, dedupeKey(hostID, commandID), 1, p.dedupeTTL)
}

// Close releases the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}

func dedupeKey(hostID string, commandID uuid.UUID) string {
	return "tambola:applied:" + hostID + ":" + commandID.String()
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return def
	}
	return v
}
