package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// genRetention keeps a generation counter around well past the entries
// written under it. A counter that expires restarts at 0, which is only safe
// once every entry from before has expired too.
const genRetention = 24 * time.Hour

// SlotCache stores computed availability as a JSON array under
// slots:{vet}:{date}:v{gen}. The generation lives in slots:{vet}:{date}:gen
// and is bumped on every invalidation, so entries computed against an older
// generation are written to keys nobody reads.
type SlotCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{client: client, ttl: ttl}
}

func genKey(vetProfileID int64, date string) string {
	return fmt.Sprintf("slots:%d:%s:gen", vetProfileID, date)
}

func slotKey(vetProfileID int64, date string, gen int64) string {
	return fmt.Sprintf("slots:%d:%s:v%d", vetProfileID, date, gen)
}

func (c *SlotCache) Get(ctx context.Context, vetProfileID int64, date string) ([]string, int64, bool, error) {
	gen, err := c.client.Get(ctx, genKey(vetProfileID, date)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("get slot generation: %w", err)
	}

	data, err := c.client.Get(ctx, slotKey(vetProfileID, date, gen)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, false, nil
		}
		return nil, 0, false, fmt.Errorf("get cached slots: %w", err)
	}

	var slots []string
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, 0, false, fmt.Errorf("decode cached slots: %w", err)
	}
	return slots, gen, true, nil
}

func (c *SlotCache) Set(ctx context.Context, vetProfileID int64, date string, gen int64, slots []string) error {
	if slots == nil {
		slots = []string{}
	}
	data, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encode slots: %w", err)
	}
	if err := c.client.Set(ctx, slotKey(vetProfileID, date, gen), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached slots: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, vetProfileID int64, date string) error {
	key := genKey(vetProfileID, date)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, genRetention+c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate cached slots: %w", err)
	}
	return nil
}
