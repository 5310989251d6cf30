package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deduper marks delivery ids as seen so redelivered webhooks and events are
// processed once.
type Deduper struct {
	rdb redis.Cmdable
}

func NewDeduper(rdb redis.Cmdable) *Deduper { return &Deduper{rdb: rdb} }

// Claim returns true for the first caller of (scope, id) within TTLDedup.
func (d *Deduper) Claim(ctx context.Context, scope, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, scope, id), "1", TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so a failed delivery can be retried.
func (d *Deduper) Release(ctx context.Context, scope, id string) error {
	if err := d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, scope, id)).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}
