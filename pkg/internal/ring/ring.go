// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ring is a generic, thread-unsafe circular buffer that
// overwrites the oldest element when capacity is reached.
//
// Good fits inside the kernel: a NIC RX/TX ring (old unconsumed frames
// are better dropped than blocking the driver) and a UDP socket's
// datagram ring. If you need a bounded queue where dropping an item
// would be a correctness bug instead of an acceptable loss (the
// kernel-stack deferred-free list), use pkg/internal/queue instead.
//
// Note: This implementation is NOT thread-safe. If concurrent access is
// needed, synchronization must be handled externally.
package ring

import "fmt"

type Ring[T any] struct {
	data []T
	head int // next write position
	size int // current number of elements
}

// New creates a new ring buffer with the given capacity.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errCapacity(capacity)
	}
	return &Ring[T]{
		data: make([]T, capacity),
	}, nil
}

func errCapacity(capacity int) error {
	return fmt.Errorf("capacity must be greater than 0, got %d", capacity)
}

// Push adds an element, overwriting the oldest entry if full.
func (r *Ring[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % cap(r.data)
	if r.size < cap(r.data) {
		r.size++
	}
}

// GetAll returns all elements in chronological order (oldest to newest).
func (r *Ring[T]) GetAll() []T {
	if r.size == 0 {
		return []T{}
	}

	result := make([]T, r.size)
	if r.size < cap(r.data) {
		copy(result, r.data[:r.size])
		return result
	}

	n := copy(result, r.data[r.head:])
	copy(result[n:], r.data[:r.head])
	return result
}

// Len returns the current number of elements in the buffer.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity of the buffer.
func (r *Ring[T]) Cap() int { return cap(r.data) }

// Clear removes all elements from the buffer.
func (r *Ring[T]) Clear() {
	r.size = 0
	r.head = 0
	clear(r.data)
}
