// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pool provides size-classed byte buffer pools for relay read loops.
package pool

import "sync"

// Size classes for pooled buffers. Requests larger than the biggest class
// are allocated directly and never pooled.
var classes = []int{4 << 10, 32 << 10, 64 << 10}

// BufferPool recycles byte slices in a small set of size classes.
type BufferPool struct {
	pools []*sync.Pool
}

// NewBufferPool creates an empty buffer pool.
func NewBufferPool() *BufferPool {
	p := &BufferPool{
		pools: make([]*sync.Pool, len(classes)),
	}
	for i, size := range classes {
		size := size
		p.pools[i] = &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		}
	}
	return p
}

// Get returns a buffer of at least the requested size.
func (p *BufferPool) Get(size int) []byte {
	for i, class := range classes {
		if size <= class {
			return p.pools[i].Get().([]byte)[:class]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer to its size class. Buffers that do not match a
// class exactly are dropped.
func (p *BufferPool) Put(buf []byte) {
	c := cap(buf)
	for i, class := range classes {
		if c == class {
			p.pools[i].Put(buf[:class])
			return
		}
	}
}

var defaultPool = NewBufferPool()

// Get returns a buffer of at least the requested size from the default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put returns a buffer to the default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}
