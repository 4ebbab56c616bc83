package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MirrorPrefix is the Redis key prefix for mirrored blocks:
//
//	Key:   ban:<client id>
//	Value: <reason>
//	TTL:   remaining block duration
const MirrorPrefix = "ban:"

// Mirror copies blocks into Redis so operators can inspect them with
// redis-cli. It is fed asynchronously from the audit event stream; the
// in-memory Ledger stays the only source of truth.
type Mirror struct {
	client *redis.Client
}

// NewMirror creates a Mirror using the provided Redis client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{client: client}
}

// Put records a block for id that expires at until. Blocks already in the
// past are ignored.
func (m *Mirror) Put(ctx context.Context, id, reason string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := m.client.Set(ctx, MirrorPrefix+id, reason, ttl).Err(); err != nil {
		return fmt.Errorf("ban: mirror put: %w", err)
	}
	return nil
}

// Get returns the mirrored block for id.
// Returns (found, remainingSeconds, reason, error).
func (m *Mirror) Get(ctx context.Context, id string) (bool, int, string, error) {
	key := MirrorPrefix + id

	reason, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", fmt.Errorf("ban: mirror get: %w", err)
	}

	ttl, err := m.client.TTL(ctx, key).Result()
	if err != nil {
		// The key exists but its TTL could not be read; still report it.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int((ttl + time.Second - 1) / time.Second)
	}
	return true, remaining, reason, nil
}

// Delete removes the mirrored block for id.
func (m *Mirror) Delete(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, MirrorPrefix+id).Err(); err != nil {
		return fmt.Errorf("ban: mirror delete: %w", err)
	}
	return nil
}
