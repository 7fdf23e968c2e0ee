// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package serverlist

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Snapshot is one immutable fetch result. Replaced wholesale on every
// successful upstream fetch; never mutated in place.
type Snapshot struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Age returns how long ago the snapshot was fetched.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.FetchedAt)
}

// Store persists the current snapshot. Implementations must be safe for
// concurrent Load and Save; the cache computes freshness itself, so a
// Store only needs last-writer-wins semantics.
type Store interface {
	// Load returns the current snapshot, or nil when none exists.
	Load(ctx context.Context) (*Snapshot, error)
	// Save replaces the current snapshot.
	Save(ctx context.Context, snap *Snapshot) error
}

// MemoryStore holds the snapshot in an atomically swapped pointer.
type MemoryStore struct {
	snap atomic.Pointer[Snapshot]
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	return s.snap.Load(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.snap.Store(snap)
	return nil
}

// RedisStore shares the snapshot across replicas through a single Redis
// key. The key expires at the TTL so Redis never serves a snapshot the
// cache would reject as stale anyway.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, key string, ttl time.Duration) *RedisStore {
	if key == "" {
		key = "wsbridge:serverlist"
	}
	return &RedisStore{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}
