package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"talkcart-calls/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const waitingKeyPrefix = "call:waiting:"

// RedisStore keeps each user's waiting queue in a Redis hash keyed by the
// incoming call id, so instances behind a load balancer see the same queue.
// Enqueue is a Lua script: dedupe and the per-user cap are checked atomically.
type RedisStore struct {
	rdb *redis.Client

	// Limit caps how many calls may wait on one user at once.
	Limit int

	// TTL bounds how long an untouched queue survives; waiting entries are
	// worthless once the incoming call has timed out anyway.
	TTL time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, Limit: 8, TTL: 10 * time.Minute}
}

func (s *RedisStore) Enqueue(ctx context.Context, e Entry) (bool, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	added, err := utils.BoundedHashEnqueue(ctx, s.rdb, waitingKeyPrefix+e.UserID, e.CallID, string(raw), s.Limit, s.TTL)
	if errors.Is(err, utils.ErrQueueLimit) {
		// A full queue is not the caller's failure; the entry is just dropped.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("waiting enqueue: %w", err)
	}
	return added, nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Entry, error) {
	raw, err := s.rdb.HGetAll(ctx, waitingKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("waiting list: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, callID string) error {
	if err := s.rdb.HDel(ctx, waitingKeyPrefix+userID, callID).Err(); err != nil {
		return fmt.Errorf("waiting remove: %w", err)
	}
	return nil
}
