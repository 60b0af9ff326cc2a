// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package frame owns the physical frame pool: a fixed range of 4 KiB
// pages, each refcounted (spec §3, §4.1). A frame with refcount 0 sits
// on the free list and is unmapped everywhere; a frame referenced by
// more than one page-table entry is necessarily COW in each of them —
// pkg/pagedir enforces that half of the invariant, this package only
// tracks the count.
package frame

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/errors"
)

// PageSize is the size in bytes of one physical frame.
const PageSize = 4096

// Addr identifies a physical frame by its page-aligned byte address.
// Alloc can hand out every frame of the pool, including the one at the
// pool base, so zero doubles as a "no frame" sentinel in callers that
// embed an Addr in a struct only while the pool base is nonzero (the
// default base is 0x100000).
type Addr uint32

// Allocator is the process-wide physical frame pool. The spec calls
// for a single-kernel-thread model with IRQ-safe brief critical
// sections (§5); a mutex stands in for the CLI/STI window.
type Allocator struct {
	mu       sync.Mutex
	logger   logr.Logger
	base     Addr
	total    int
	refcount []uint32
	free     []int // stack of free frame indices
}

// New creates an Allocator over `count` frames starting at physical
// address `base`, which must be frame-aligned.
func New(logger logr.Logger, base Addr, count int) (*Allocator, error) {
	if count <= 0 {
		return nil, errors.Validation("frame count must be positive, got %d", count)
	}
	if uint32(base)%PageSize != 0 {
		return nil, errors.Validation("frame base %#x is not page-aligned", base)
	}

	free := make([]int, count)
	for i := range free {
		// Push in descending order so low frames are handed out first,
		// matching a bitmap scan's natural order.
		free[i] = count - 1 - i
	}

	return &Allocator{
		logger:   logger.WithName("frame"),
		base:     base,
		total:    count,
		refcount: make([]uint32, count),
		free:     free,
	}, nil
}

func (a *Allocator) indexOf(addr Addr) (int, bool) {
	if addr < a.base {
		return 0, false
	}
	off := uint32(addr - a.base)
	if off%PageSize != 0 {
		return 0, false
	}
	idx := int(off / PageSize)
	if idx >= a.total {
		return 0, false
	}
	return idx, true
}

func (a *Allocator) addrOf(idx int) Addr {
	return a.base + Addr(idx*PageSize)
}

// Alloc returns a fresh frame with refcount 1, or ClassResource error
// if the pool is exhausted.
func (a *Allocator) Alloc() (Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.free) == 0 {
		return 0, errors.Resource("frame pool exhausted")
	}
	n := len(a.free) - 1
	idx := a.free[n]
	a.free = a.free[:n]
	a.refcount[idx] = 1
	return a.addrOf(idx), nil
}

// Free releases the caller's reference to addr. It is a no-op if the
// frame's refcount remains positive after the decrement, and frees the
// frame back to the pool once it reaches zero. Zeroing the page is not
// required by the spec and is not performed here.
func (a *Allocator) Free(addr Addr) error {
	_, err := a.RefDec(addr)
	return err
}

// RefInc bumps addr's refcount (e.g. when a page is shared COW between
// parent and child) and returns the refcount after the increment.
func (a *Allocator) RefInc(addr Addr) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.indexOf(addr)
	if !ok {
		return 0, errors.Validation("refinc: %#x is not a valid frame address", addr)
	}
	if a.refcount[idx] == 0 {
		return 0, errors.State("refinc: frame %#x is not allocated", addr)
	}
	a.refcount[idx]++
	return a.refcount[idx], nil
}

// RefDec decrements addr's refcount, freeing the frame back to the
// pool if it reaches zero, and returns the refcount after the
// decrement.
func (a *Allocator) RefDec(addr Addr) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.indexOf(addr)
	if !ok {
		return 0, errors.Validation("refdec: %#x is not a valid frame address", addr)
	}
	if a.refcount[idx] == 0 {
		return 0, errors.State("refdec: frame %#x is already free", addr)
	}
	a.refcount[idx]--
	after := a.refcount[idx]
	if after == 0 {
		a.free = append(a.free, idx)
	}
	return after, nil
}

// RefCount returns addr's current refcount (0 if free or invalid).
func (a *Allocator) RefCount(addr Addr) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.indexOf(addr)
	if !ok {
		return 0
	}
	return a.refcount[idx]
}

// Stats reports pool occupancy, used by the introspection collectors.
type Stats struct {
	Total int
	Free  int
	Used  int
}

func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Stats{
		Total: a.total,
		Free:  len(a.free),
		Used:  a.total - len(a.free),
	}
}
