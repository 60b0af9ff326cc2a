// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package kstack hands out guarded one-page kernel stacks to processes
// (spec §4.3). Each slot is two pages wide: a low guard page that is
// never mapped, and a high page that backs the actual stack.
//
// Freeing the stack the current goroutine is conceptually "executing
// on" would be a use-after-free the instant the scheduler context-
// switches away, so Free on the running process's own stack defers the
// release into a small fixed-capacity queue instead (see
// pkg/internal/queue) and the scheduler drains it on every subsequent
// switch, once it is safely on some other process's stack.
package kstack

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/internal/queue"
	"github.com/rohos/kernel/pkg/pagedir"
)

const slotPages = 2 // guard page + stack page

// Handle identifies one allocated kernel stack.
type Handle struct {
	slot  int
	Guard pagedir.VAddr // unmapped guard page
	Top   pagedir.VAddr // mapped stack page; the usable stack
}

type deferredFree struct {
	dir *pagedir.Directory
	h   Handle
}

// Allocator owns a fixed virtual region of kernel-stack slots.
type Allocator struct {
	mu        sync.Mutex
	logger    logr.Logger
	pd        *pagedir.Service
	base      pagedir.VAddr
	numSlots  int
	freeSlots []int
	deferred  *queue.Queue[deferredFree]
}

// New creates an Allocator with numSlots stack slots starting at base
// (which must be page-aligned and at or above pagedir.KernelBase) and a
// deferred-free queue sized deferredCap. deferredCap should be at least
// the number of exits that can race before the next context switch
// drains it (see spec design notes §9); one per ready-queue priority
// plus a small margin is a reasonable default.
func New(logger logr.Logger, pd *pagedir.Service, base pagedir.VAddr, numSlots, deferredCap int) (*Allocator, error) {
	if numSlots <= 0 {
		return nil, errors.Validation("numSlots must be positive, got %d", numSlots)
	}
	if base < pagedir.KernelBase {
		return nil, errors.Validation("kernel stack region %#x must be >= kernel base %#x", base, pagedir.KernelBase)
	}

	dq, err := queue.New[deferredFree](deferredCap)
	if err != nil {
		return nil, err
	}

	free := make([]int, numSlots)
	for i := range free {
		free[i] = numSlots - 1 - i
	}

	return &Allocator{
		logger:    logger.WithName("kstack"),
		pd:        pd,
		base:      base,
		numSlots:  numSlots,
		freeSlots: free,
		deferred:  dq,
	}, nil
}

func (a *Allocator) slotBase(slot int) pagedir.VAddr {
	return a.base + pagedir.VAddr(slot*slotPages*pagedir.PageSize)
}

// Alloc reserves a slot and maps its stack page (kernel-only, not
// user-accessible) into dir, leaving the guard page unmapped.
func (a *Allocator) Alloc(dir *pagedir.Directory) (Handle, error) {
	a.mu.Lock()
	if len(a.freeSlots) == 0 {
		a.mu.Unlock()
		return Handle{}, errors.Resource("kernel stack pool exhausted")
	}
	n := len(a.freeSlots) - 1
	slot := a.freeSlots[n]
	a.freeSlots = a.freeSlots[:n]
	a.mu.Unlock()

	guard := a.slotBase(slot)
	top := guard + pagedir.VAddr(pagedir.PageSize)

	if _, err := a.pd.MapAlloc(dir, top, pagedir.FlagWritable); err != nil {
		a.mu.Lock()
		a.freeSlots = append(a.freeSlots, slot)
		a.mu.Unlock()
		return Handle{}, err
	}

	return Handle{slot: slot, Guard: guard, Top: top}, nil
}

// Free releases h. If running is true (the caller is freeing the stack
// its own goroutine is currently using, e.g. in exit()), the release
// is deferred until DrainDeferred is called from a safe context —
// after the scheduler has switched CR3 and the kernel stack pointer to
// some other process.
func (a *Allocator) Free(dir *pagedir.Directory, h Handle, running bool) error {
	if running {
		if !a.deferred.Push(deferredFree{dir: dir, h: h}) {
			return errors.Resource("kernel stack deferred-free queue full")
		}
		return nil
	}
	return a.free(dir, h)
}

func (a *Allocator) free(dir *pagedir.Directory, h Handle) error {
	if err := a.pd.Unmap(dir, h.Top, true); err != nil {
		return err
	}
	a.mu.Lock()
	a.freeSlots = append(a.freeSlots, h.slot)
	a.mu.Unlock()
	return nil
}

// DrainDeferred releases every stack queued by a prior Free(..., true).
// The scheduler calls this once per context switch, after installing
// the new process's directory and kernel stack, so none of the entries
// being freed can be the stack currently in use.
func (a *Allocator) DrainDeferred() error {
	for _, e := range a.deferred.DrainAll() {
		if err := a.free(e.dir, e.h); err != nil {
			return err
		}
	}
	return nil
}

// PendingDeferred reports how many stacks are queued for deferred
// free, for introspection/tests.
func (a *Allocator) PendingDeferred() int {
	return a.deferred.Len()
}
