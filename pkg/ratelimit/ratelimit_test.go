// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustion(t *testing.T) {
	tb := NewTokenBucket(2, 1)

	if !tb.Allow() || !tb.Allow() {
		t.Fatal("bucket rejected requests within capacity")
	}
	if tb.Allow() {
		t.Fatal("bucket allowed a request beyond capacity")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(1, 10)

	if !tb.Allow() {
		t.Fatal("first request rejected")
	}
	if tb.Allow() {
		t.Fatal("empty bucket allowed a request")
	}

	time.Sleep(150 * time.Millisecond)
	if !tb.Allow() {
		t.Error("bucket did not refill")
	}
}

func TestLimiterIsolatesClients(t *testing.T) {
	l := NewLimiter(1, 1, 10)

	if !l.Allow("a") {
		t.Fatal("first request from a rejected")
	}
	if l.Allow("a") {
		t.Fatal("second request from a allowed")
	}
	if !l.Allow("b") {
		t.Error("client b throttled by client a")
	}
	if l.Clients() != 2 {
		t.Errorf("tracked clients = %d, want 2", l.Clients())
	}
}

func TestLimiterBoundsTrackedClients(t *testing.T) {
	l := NewLimiter(1, 1, 2)

	l.Allow("a")
	l.Allow("b")
	// Both buckets are empty, so nothing can be trimmed and a new
	// client is rejected outright.
	if l.Allow("c") {
		t.Error("limiter exceeded maxClients")
	}
}
