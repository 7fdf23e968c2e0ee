// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-client rate limiting using the token
// bucket algorithm. The acceptor uses it, when configured, to bound the
// rate of inbound connection attempts per remote host.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements the token bucket algorithm.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	refillRate int64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a token bucket holding at most capacity tokens,
// refilled at refillRate tokens per second.
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a single request should be admitted.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	added := int64(elapsed * float64(tb.refillRate))
	if added > 0 {
		tb.tokens += added
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}
}

// Limiter tracks one token bucket per client key.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*TokenBucket
	capacity   int64
	refillRate int64
	maxClients int
}

// NewLimiter creates a per-client limiter. Each client gets its own bucket
// with the given capacity and refill rate. At most maxClients buckets are
// tracked; requests from further clients are rejected until the map is
// trimmed.
func NewLimiter(capacity, refillRate int64, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	return &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxClients: maxClients,
	}
}

// Allow reports whether a request from the given client should be admitted.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	tb, ok := l.buckets[clientID]
	if !ok {
		if len(l.buckets) >= l.maxClients {
			l.trim()
		}
		if len(l.buckets) >= l.maxClients {
			l.mu.Unlock()
			return false
		}
		tb = NewTokenBucket(l.capacity, l.refillRate)
		l.buckets[clientID] = tb
	}
	l.mu.Unlock()

	return tb.Allow()
}

// trim drops buckets that have fully refilled; their clients have been
// idle long enough to be indistinguishable from new ones.
func (l *Limiter) trim() {
	for id, tb := range l.buckets {
		tb.mu.Lock()
		tb.refill()
		full := tb.tokens == tb.capacity
		tb.mu.Unlock()
		if full {
			delete(l.buckets, id)
		}
	}
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
