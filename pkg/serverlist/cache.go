// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package serverlist provides a time-bounded cache over the upstream
// master-server list.
//
// A fresh snapshot (younger than the TTL) is served without an upstream
// request. On a miss the cache fetches the configured URL, replaces the
// snapshot on success, and returns the error untouched on failure —
// failures never extend the TTL window. Concurrent misses may fetch in
// parallel; each applies replace-on-success independently and the last
// writer wins.
package serverlist

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultTTL is the maximum snapshot age served without a refetch.
	DefaultTTL = 60 * time.Second

	// DefaultUpstreamURL is the master server the list is fetched from.
	DefaultUpstreamURL = "https://servers.openrct2.io"

	// maxPayloadSize caps the upstream response body.
	maxPayloadSize = 8 << 20

	fetchTimeout = 10 * time.Second
)

// Config holds cache configuration.
type Config struct {
	UpstreamURL string
	TTL         time.Duration
	Store       Store
	Client      *http.Client
	Logger      *slog.Logger
	// OnFetch, when set, observes every upstream fetch outcome.
	OnFetch func(err error)
}

// Cache is the process-wide server-list cache.
type Cache struct {
	upstreamURL string
	ttl         time.Duration
	store       Store
	client      *http.Client
	logger      *slog.Logger
	onFetch     func(err error)
}

// New creates a Cache.
func New(cfg Config) *Cache {
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = DefaultUpstreamURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: fetchTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		upstreamURL: cfg.UpstreamURL,
		ttl:         cfg.TTL,
		store:       cfg.Store,
		client:      cfg.Client,
		logger:      cfg.Logger,
		onFetch:     cfg.OnFetch,
	}
}

// GetServerList returns the cached payload when fresh, refetching from
// the upstream master server otherwise.
func (c *Cache) GetServerList(ctx context.Context) ([]byte, error) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		// A broken store read is a miss, not a failure.
		c.logger.Warn("server list store read failed", slog.String("error", err.Error()))
	}
	if snap != nil && snap.Age() < c.ttl {
		return snap.Payload, nil
	}

	payload, err := c.fetch(ctx)
	if c.onFetch != nil {
		c.onFetch(err)
	}
	if err != nil {
		return nil, err
	}

	fresh := &Snapshot{Payload: payload, FetchedAt: time.Now()}
	if err := c.store.Save(ctx, fresh); err != nil {
		c.logger.Warn("server list store write failed", slog.String("error", err.Error()))
	}
	return payload, nil
}

func (c *Cache) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.upstreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build server list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch server list: upstream returned %s", resp.Status)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("read server list: %w", err)
	}
	return payload, nil
}
