// Package idempotency remembers responses to requests that carried an
// Idempotency-Key so a retried request replays the first answer.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Response is a stored HTTP answer.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Save(ctx context.Context, key string, resp Response) error
}

// RedisStore keeps responses in Redis under "idempotency:<key>" for TTL.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		TTL:    ttl,
	}
}

func redisKey(key string) string {
	return "idempotency:" + key
}

// Get returns nil, nil when nothing is stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Response, error) {
	raw, err := s.Client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Save keeps the first response stored under key; later saves are ignored.
func (s *RedisStore) Save(ctx context.Context, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.Client.SetNX(ctx, redisKey(key), raw, s.TTL).Err()
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	TTL     time.Duration
	Now     func() time.Time
}

type memoryEntry struct {
	resp    Response
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, TTL: ttl, Now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if s.TTL > 0 && s.Now().After(e.expires) {
		delete(s.entries, key)
		return nil, nil
	}
	resp := e.resp
	return &resp, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && (s.TTL == 0 || !s.Now().After(e.expires)) {
		return nil
	}
	s.entries[key] = memoryEntry{resp: resp, expires: s.Now().Add(s.TTL)}
	return nil
}
