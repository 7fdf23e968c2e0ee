// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"sync"
	"time"

	"github.com/absmach/wsbridge/pkg/bridge"
)

// registry tracks live sessions so shutdown can drain and force-close
// them. Sessions remove themselves when their Run returns.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*bridge.Bridge
}

func newRegistry() *registry {
	return &registry{
		sessions: make(map[string]*bridge.Bridge),
	}
}

func (r *registry) add(b *bridge.Bridge) {
	r.mu.Lock()
	r.sessions[b.ID()] = b
	r.mu.Unlock()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// drain waits for all sessions to finish or ctx to expire.
func (r *registry) drain(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.len() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// shutdownAll force-closes every remaining session.
func (r *registry) shutdownAll() {
	r.mu.Lock()
	remaining := make([]*bridge.Bridge, 0, len(r.sessions))
	for _, b := range r.sessions {
		remaining = append(remaining, b)
	}
	r.mu.Unlock()

	for _, b := range remaining {
		b.Shutdown()
	}
}
