package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// ErrInProgress means another request with the same key has not finished.
var ErrInProgress = errors.New("idempotent request in progress")

const pending = "pending"

// IdempotencyStore remembers which order an Idempotency-Key produced.
type IdempotencyStore struct {
	rdb redis.Cmdable
}

func NewIdempotencyStore(rdb redis.Cmdable) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb}
}

// Begin claims key for customerID. When the key already completed it returns
// the remembered order id with started=false.
func (s *IdempotencyStore) Begin(ctx context.Context, customerID int64, key string) (orderID int64, started bool, err error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
	ok, err := s.rdb.SetNX(ctx, k, pending, TTLIdempotency).Result()
	if err != nil {
		return 0, false, fmt.Errorf("idempotency begin: %w", err)
	}
	if ok {
		return 0, true, nil
	}

	v, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, customerID, key)
	}
	if err != nil {
		return 0, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if v == pending {
		return 0, false, ErrInProgress
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency value %q: %w", v, err)
	}
	return id, false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, customerID int64, key string, orderID int64) error {
	k := fmt.Sprintf(KeyIdemOrderCreate, customerID, key)
	if err := s.rdb.Set(ctx, k, strconv.FormatInt(orderID, 10), TTLIdempotency).Err(); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Abort releases a claimed key after a failed request.
func (s *IdempotencyStore) Abort(ctx context.Context, customerID int64, key string) error {
	if err := s.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, customerID, key)).Err(); err != nil {
		return fmt.Errorf("idempotency abort: %w", err)
	}
	return nil
}
