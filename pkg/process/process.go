// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package process holds the process table: per-process state, its fd
// table, and the trap frame a context switch saves and restores (spec
// §4.4). The scheduling policy itself — ready queues, preemption,
// fork/exec/wait/exit/kill, blocking and wake-up — lives in
// scheduler.go; this file is the record shape that policy operates on.
package process

import (
	"github.com/rohos/kernel/pkg/ipc/pipe"
	"github.com/rohos/kernel/pkg/kstack"
	"github.com/rohos/kernel/pkg/pagedir"
)

// PID identifies a process. 0 is never assigned and stands in for "no
// process" / "no parent" (the kernel's own context).
type PID uint32

// State is a process's scheduling state.
type State int

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateBlocked:
		return "BLOCKED"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// BlockReason records why a BLOCKED process is blocked, so the right
// wake-up path can find it (spec §4.4).
type BlockReason int

const (
	BlockNone BlockReason = iota
	BlockSleep
	BlockWait
	BlockPipeRead
	BlockPipeWrite
	BlockConsole
)

// FDKind is the kind of thing a file descriptor slot refers to.
type FDKind int

const (
	FDNone FDKind = iota
	FDConsole
	FDFile
	FDPipeRead
	FDPipeWrite
)

// MaxFDs bounds each process's fd table (spec §4.5 I/O category).
const MaxFDs = 16

// FD is one entry in a process's fd table.
type FD struct {
	Kind   FDKind
	Path   string // FDFile: resolved path
	Offset uint32 // FDFile: next read/write byte offset
	Pipe   *pipe.Pipe
}

// TrapFrame is the saved register set a context switch swaps in and
// out of the TSS / IRQ return path. EAX carries the syscall return
// value for a process that was blocked and has since woken up.
type TrapFrame struct {
	EAX, EBX, ECX, EDX, EDI uint32
	EIP, ESP, EFLAGS        uint32
	CS, SS, DS, ES, FS, GS  uint32
}

// Process is one process table entry.
type Process struct {
	PID  PID
	PPID PID
	Name string
	Args []string

	State    State
	Priority int

	TimeSlice     int
	TotalTime     uint64
	Reschedule    bool
	BlockReason   BlockReason
	SleepUntil    uint64        // BlockSleep: tick at which to wake
	WaitPID       PID           // BlockWait: AnyChild or a specific pid
	WaitStatusPtr pagedir.VAddr // BlockWait: user address to receive exit status, 0 if none

	Dir   *pagedir.Directory
	Stack kstack.Handle

	HeapBase pagedir.VAddr
	HeapEnd  pagedir.VAddr

	FDs [MaxFDs]FD
	CWD string

	Trap TrapFrame

	ExitCode int

	// ArgBuf is the raw byte blob passed to the most recent Exec, kept
	// verbatim so GETARGS can round-trip it (spec §8 round-trip
	// property). Name/Args above remain the parsed (path, argv) view
	// the scheduler itself works with.
	ArgBuf []byte

	// Session is per-process shell-glue state (aliases, command
	// history): supplemented from original_source/kernel/shell.c, owned
	// here rather than as a kernel-global shell (see SPEC_FULL.md §4).
	Session Session
}

// AnyChild is the sentinel WaitPID meaning "any child" (spec: wait(-1, ...)).
const AnyChild PID = 0xFFFFFFFF

// AllocFD returns the lowest free fd index, or -1 if the table is full.
func (p *Process) AllocFD() int {
	for i := range p.FDs {
		if p.FDs[i].Kind == FDNone {
			return i
		}
	}
	return -1
}
