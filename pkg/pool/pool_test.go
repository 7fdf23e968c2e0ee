// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pool

import "testing"

func TestGetReturnsRequestedSize(t *testing.T) {
	p := NewBufferPool()

	for _, size := range []int{1, 4096, 5000, 32768, 65536} {
		buf := p.Get(size)
		if len(buf) < size {
			t.Errorf("Get(%d) returned %d bytes", size, len(buf))
		}
		p.Put(buf)
	}
}

func TestGetOversized(t *testing.T) {
	p := NewBufferPool()

	buf := p.Get(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("oversized Get returned %d bytes", len(buf))
	}
	// Oversized buffers are not pooled; Put must not panic.
	p.Put(buf)
}

func TestDefaultPool(t *testing.T) {
	buf := Get(1024)
	if len(buf) < 1024 {
		t.Fatalf("Get(1024) returned %d bytes", len(buf))
	}
	Put(buf)
}
