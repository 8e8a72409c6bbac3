package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrIdempotencyConflict indicates the key is still being processed by another request.
var ErrIdempotencyConflict = errors.New("idempotent request still in progress")

const idempotencyPending = "pending"

// IdempotentResponse is the stored outcome of a processed request.
type IdempotentResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore reserves request keys and remembers their responses.
type IdempotencyStore interface {
	// Begin reserves key. It returns the stored response when key already
	// completed, nil when the caller now owns key, or ErrIdempotencyConflict.
	Begin(ctx context.Context, key string) (*IdempotentResponse, error)
	Complete(ctx context.Context, key string, resp IdempotentResponse) error
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore keeps keys in Redis for ttl.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisIdempotencyStore constructs the store.
func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

// Begin implements IdempotencyStore.
func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (*IdempotentResponse, error) {
	ok, err := s.client.SetNX(ctx, key, idempotencyPending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency reserve: %v", ErrStorageFailure, err)
	}
	if ok {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency lookup: %v", ErrStorageFailure, err)
	}
	if string(raw) == idempotencyPending {
		return nil, ErrIdempotencyConflict
	}
	var resp IdempotentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: idempotency decode: %v", ErrStorageFailure, err)
	}
	return &resp, nil
}

// Complete implements IdempotencyStore.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp IdempotentResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, raw, s.ttl).Err()
}

// Release implements IdempotencyStore.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// LocalIdempotencyStore keeps keys in process memory.
type LocalIdempotencyStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]localIdempotencyEntry
}

type localIdempotencyEntry struct {
	resp    *IdempotentResponse
	expires time.Time
}

// NewLocalIdempotencyStore constructs the store.
func NewLocalIdempotencyStore(ttl time.Duration) *LocalIdempotencyStore {
	return &LocalIdempotencyStore{ttl: ttl, now: time.Now, entries: make(map[string]localIdempotencyEntry)}
}

// Begin implements IdempotencyStore.
func (s *LocalIdempotencyStore) Begin(_ context.Context, key string) (*IdempotentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	if e, ok := s.entries[key]; ok {
		if e.resp == nil {
			return nil, ErrIdempotencyConflict
		}
		resp := *e.resp
		return &resp, nil
	}
	s.entries[key] = localIdempotencyEntry{expires: now.Add(s.ttl)}
	return nil, nil
}

// Complete implements IdempotencyStore.
func (s *LocalIdempotencyStore) Complete(_ context.Context, key string, resp IdempotentResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = localIdempotencyEntry{resp: &resp, expires: s.now().Add(s.ttl)}
	return nil
}

// Release implements IdempotencyStore.
func (s *LocalIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
