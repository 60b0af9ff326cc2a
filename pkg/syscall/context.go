// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/device"
	"github.com/rohos/kernel/pkg/fs"
	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/introspection"
	"github.com/rohos/kernel/pkg/netstack"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

// Kernel bundles every subsystem a syscall handler might need to
// touch. It is assembled once at bring-up (cmd/kernel) and handed to
// Dispatch on every trap.
type Kernel struct {
	Logger logr.Logger

	Frames *frame.Allocator
	PageDir *pagedir.Service
	Proc   *process.Scheduler
	FS     *fs.FS
	Net    *netstack.Stack

	Introspect *introspection.Manager

	Console  device.Console
	Audio    device.Audio
	Graphics device.Graphics
}

// Args is the four integer/pointer argument registers a trap carries
// (spec §4.5: EBX, ECX, EDX, EDI).
type Args struct {
	A0, A1, A2, A3 uint32
}

// Handler implements one syscall. It returns the value to place in EAX
// and whether the process blocked instead of completing: a blocked
// handler must leave the process's BlockReason set (via a pkg/process
// call) before returning.
type Handler func(k *Kernel, p *process.Process, args Args) (result uint32, blocked bool)

// Dispatcher holds the call-number → Handler table built up by each
// category file's init().
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[Num]Handler

	// retry marks processes whose last blocking handler needs to be
	// re-invoked (not just resumed) once they leave StateBlocked: pipe
	// and console I/O, where the scheduler's wake path only re-readies
	// the process and the actual data transfer happens on the next
	// Dispatch call. Sleep/Wait are not marked here because the
	// scheduler finalizes their EAX directly when it wakes them (see
	// scheduler.go Tick/harvest), so no handler re-entry is needed for
	// those.
	retry map[process.PID]bool
}

// defaultDispatcher is the process-wide table category files register
// into via init(), mirroring pkg/introspection's defaultRegistry.
var defaultDispatcher = &Dispatcher{
	handlers: make(map[Num]Handler),
	retry:    make(map[process.PID]bool),
}

// Register attaches handler to num on the default dispatcher. Calling
// it twice for the same num replaces the handler; category init()
// functions each own a disjoint number range so this should never
// happen in practice.
func Register(num Num, handler Handler) {
	defaultDispatcher.mu.Lock()
	defer defaultDispatcher.mu.Unlock()
	defaultDispatcher.handlers[num] = handler
}

// Default returns the process-wide dispatcher every category file
// registers against.
func Default() *Dispatcher { return defaultDispatcher }

// NeedsRetry reports whether p's last syscall needs Dispatch called
// again now that it has left StateBlocked (true for pipe and console
// I/O).
func (d *Dispatcher) NeedsRetry(pid process.PID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.retry[pid]
}

// Dispatch services the syscall currently trapped in p.Trap: EAX holds
// the call number, EBX/ECX/EDX/EDI the arguments. If p is still
// StateBlocked from a previous call this is a no-op. A handler that
// blocks leaves EAX untouched (still the call number) so a later
// Dispatch call against the same process replays the same handler
// with the same arguments; one that completes writes its result into
// EAX and the return value.
func (d *Dispatcher) Dispatch(k *Kernel, p *process.Process) uint32 {
	if p.State == process.StateBlocked {
		return p.Trap.EAX
	}

	num := Num(p.Trap.EAX)
	d.mu.Lock()
	h, ok := d.handlers[num]
	d.mu.Unlock()
	if !ok {
		k.Logger.Info("unknown syscall", "num", num, "pid", p.PID)
		p.Trap.EAX = ErrVal
		return ErrVal
	}

	args := Args{A0: p.Trap.EBX, A1: p.Trap.ECX, A2: p.Trap.EDX, A3: p.Trap.EDI}
	result, blocked := h(k, p, args)

	d.mu.Lock()
	defer d.mu.Unlock()
	if blocked {
		switch p.BlockReason {
		case process.BlockPipeRead, process.BlockPipeWrite, process.BlockConsole:
			d.retry[p.PID] = true
		default:
			delete(d.retry, p.PID)
		}
		return p.Trap.EAX
	}

	delete(d.retry, p.PID)
	p.Trap.EAX = result
	return result
}
