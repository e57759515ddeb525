// cmd/historian/main.go is an asynchronous historian service that pops
// applied-command records from the Redis audit queue and persists them to
// PostgreSQL for replay and traceability.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/tambola-live/tambola-service/internal/cache"
)

const commandLogSchema = `
CREATE TABLE IF NOT EXISTS command_log (
	host_id TEXT NOT NULL,
	command_id UUID NOT NULL,
	session_id TEXT,
	command_type TEXT NOT NULL,
	payload JSONB,
	issued_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (host_id, command_id)
);
`

// HistorianService encapsulates the Redis + DB logic for capturing command
// records in batches.
type HistorianService struct {
	redisClient *redis.Client
	pool        *pgxpool.Pool
	queueName   string
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []cache.CommandRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewHistorianService constructs a HistorianService from environment
// variables or defaults.
func NewHistorianService() *HistorianService {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)

	rdb := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		DB:   getEnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &HistorianService{
		redisClient: rdb,
		queueName:   getEnv("COMMAND_QUEUE_NAME", cache.DefaultQueueName),
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]cache.CommandRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and starts the consume loop. It blocks
// until the service context is cancelled.
func (hs *HistorianService) Run() error {
	pool, err := connectDB(hs.ctx)
	if err != nil {
		return err
	}
	hs.pool = pool
	defer pool.Close()

	if _, err := pool.Exec(hs.ctx, commandLogSchema); err != nil {
		return fmt.Errorf("ensure command_log schema: %w", err)
	}

	go hs.readRedisLoop()

	log.Println("tambola-historian service started.")
	<-hs.ctx.Done()
	hs.flushBatchToDB()
	log.Println("tambola-historian shutting down.")
	return nil
}

// readRedisLoop continuously uses BLPop to retrieve records from the queue.
func (hs *HistorianService) readRedisLoop() {
	ticker := time.NewTicker(hs.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-hs.ctx.Done():
			return

		case <-ticker.C:
			hs.flushBatchToDB()

		default:
			// BLPop with a short timeout so context cancellation is handled.
			res, err := hs.redisClient.BLPop(hs.ctx, 3*time.Second, hs.queueName).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && hs.ctx.Err() == nil {
					log.Printf("[ERROR] BLPop: %v\n", err)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record cache.CommandRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid command record: %v\n", err)
				continue
			}
			hs.appendToBatch(record)
		}
	}
}

func (hs *HistorianService) appendToBatch(record cache.CommandRecord) {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()

	hs.batch = append(hs.batch, record)
	if len(hs.batch) >= hs.batchSize {
		hs.flushLocked()
	}
}

func (hs *HistorianService) flushBatchToDB() {
	hs.batchMu.Lock()
	defer hs.batchMu.Unlock()
	hs.flushLocked()
}

// flushLocked writes the current batch in a single transaction. Callers
// must hold batchMu.
func (hs *HistorianService) flushLocked() {
	if len(hs.batch) == 0 {
		return
	}
	batchCopy := make([]cache.CommandRecord, len(hs.batch))
	copy(batchCopy, hs.batch)
	hs.batch = hs.batch[:0]

	ctx := context.Background()
	err := pgx.BeginTxFunc(ctx, hs.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range batchCopy {
			if err := insertCommandTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insertCommandTx: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("[ERROR] flush batch: %v\n", err)
	} else {
		log.Printf("Flushed %d command records to DB.\n", len(batchCopy))
	}
}

// insertCommandTx inserts a single record; replays of the same command id
// are ignored.
func insertCommandTx(ctx context.Context, tx pgx.Tx, rec cache.CommandRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return err
	}
	q := `
		INSERT INTO command_log (host_id, command_id, session_id, command_type, payload, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (host_id, command_id) DO NOTHING
	`
	_, err = tx.Exec(ctx, q,
		rec.HostID, rec.CommandID, rec.SessionID, rec.Type,
		payload, time.UnixMilli(rec.Timestamp),
	)
	return err
}

func connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	user := getEnv("POSTGRES_USER", "postgres")
	pass := getEnv("POSTGRES_PASSWORD", "postgres")
	host := getEnv("PG_HOST", "localhost")
	port := getEnv("PG_PORT", "5432")
	dbname := getEnv("PG_DATABASE", "tambola")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, dbname)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	hs := NewHistorianService()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		hs.cancelFn()
	}()

	if err := hs.Run(); err != nil {
		log.Fatalf("historian: %v", err)
	}
}
