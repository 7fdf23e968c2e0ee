// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import "sync"

// FlowState is the two-state flow-control flag of one relay direction.
type FlowState int32

const (
	// Flowing means the direction is forwarding freely.
	Flowing FlowState = iota
	// Paused means the producer is suspended until the consumer drains.
	Paused
)

// String returns the state name.
func (s FlowState) String() string {
	if s == Paused {
		return "paused"
	}
	return "flowing"
}

// flow tracks the outstanding (produced but not yet consumed) byte count
// of one relay direction and pauses the producer once it exceeds the
// threshold. The producer calls wait before each read, produced after
// handing off a chunk; the consumer calls consumed after delivering one.
// Resumption happens when the outstanding count drops back to the
// threshold or below.
type flow struct {
	mu          sync.Mutex
	cond        *sync.Cond
	threshold   int
	outstanding int
	paused      bool
	released    bool
}

func newFlow(threshold int) *flow {
	f := &flow{threshold: threshold}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// wait blocks while the direction is paused.
func (f *flow) wait() {
	f.mu.Lock()
	for f.paused && !f.released {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// produced records n bytes handed to the consumer and pauses the
// direction if the outstanding count now exceeds the threshold.
func (f *flow) produced(n int) {
	f.mu.Lock()
	f.outstanding += n
	if f.outstanding > f.threshold {
		f.paused = true
	}
	f.mu.Unlock()
}

// consumed records n bytes delivered by the consumer and resumes the
// direction once the outstanding count is back at or below the threshold.
func (f *flow) consumed(n int) {
	f.mu.Lock()
	f.outstanding -= n
	if f.paused && f.outstanding <= f.threshold {
		f.paused = false
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

// setPaused flips the flag directly. Used by the direction whose
// backpressure signal is a blocking write rather than a byte count.
func (f *flow) setPaused(paused bool) {
	f.mu.Lock()
	f.paused = paused
	if !paused {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

// release permanently unblocks all waiters. Called on session teardown.
func (f *flow) release() {
	f.mu.Lock()
	f.released = true
	f.cond.Broadcast()
	f.mu.Unlock()
}

// state returns the current flow state.
func (f *flow) state() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused {
		return Paused
	}
	return Flowing
}
