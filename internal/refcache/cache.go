// Package refcache remembers reference transcripts by audio content so the
// same clip is transcribed only once.
package refcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "voiceclone:ref:"

// Cache stores transcripts keyed by Key(audio).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, transcript string) error
}

// Key derives the cache key of a raw reference clip.
func Key(audio []byte) string {
	return keyPrefix + strconv.FormatUint(xxhash.Sum64(audio), 16)
}

type memoryEntry struct {
	transcript string
	expires    time.Time
}

// Memory is an in-process Cache. A zero TTL keeps entries forever.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		mu:      sync.RWMutex{},
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the transcript stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()

		return "", false, nil
	}

	return entry.transcript, true, nil
}

// Set stores transcript under key.
func (m *Memory) Set(_ context.Context, key, transcript string) error {
	entry := memoryEntry{transcript: transcript, expires: time.Time{}}
	if m.ttl > 0 {
		entry.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()

	return nil
}

// Redis is a Cache shared between service replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get returns the transcript stored under key.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}

	return val, true, nil
}

// Set stores transcript under key with the configured TTL.
func (r *Redis) Set(ctx context.Context, key, transcript string) error {
	err := r.client.Set(ctx, key, transcript, r.ttl).Err()
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	return nil
}

// Ping verifies the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	err := r.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	return nil
}
