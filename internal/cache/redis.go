// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for room action logs.
const DefaultQueueName = "uno_actions"

// ActionRecord holds the minimal info the historian worker needs to rebuild a
// room's action timeline.
type ActionRecord struct {
	ID        uuid.UUID      `json:"id"`
	ChatID    int64          `json:"chat_id"`
	ActorID   int64          `json:"actor_id"`
	Action    string         `json:"action"`
	Code      string         `json:"code"`
	Version   int            `json:"version"` // session version the action committed as
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// ActionQueue pushes committed action records onto a Redis list.
type ActionQueue struct {
	rdb   *redis.Client
	queue string
}

// Connect initializes a Redis client and verifies the connection.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewActionQueue wraps a connected client. An empty queue name uses the default.
func NewActionQueue(rdb *redis.Client, queue string) *ActionQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &ActionQueue{rdb: rdb, queue: queue}
}

// Log serializes the record and pushes it to the queue. This is a quick
// network send; the caller treats failures as non-fatal.
func (q *ActionQueue) Log(ctx context.Context, rec ActionRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}
