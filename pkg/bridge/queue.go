// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

// queue is a FIFO of byte chunks buffered while a session is connecting.
// It is not safe for concurrent use; the bridge serializes access under
// its state mutex so that the drain-then-switch transition is atomic.
type queue struct {
	chunks [][]byte
	bytes  int
}

// push appends a chunk to the tail.
func (q *queue) push(chunk []byte) {
	q.chunks = append(q.chunks, chunk)
	q.bytes += len(chunk)
}

// drain removes and returns all queued chunks in arrival order.
func (q *queue) drain() [][]byte {
	chunks := q.chunks
	q.chunks = nil
	q.bytes = 0
	return chunks
}

// reset discards all queued chunks.
func (q *queue) reset() {
	q.chunks = nil
	q.bytes = 0
}

// len returns the number of queued chunks.
func (q *queue) len() int {
	return len(q.chunks)
}
