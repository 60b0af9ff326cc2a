// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"bytes"

	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func init() {
	Register(EXIT, handleExit)
	Register(FORK, handleFork)
	Register(EXEC, handleExec)
	Register(WAIT, handleWait)
	Register(SPAWN, handleSpawn)
	Register(KILL, handleKill)
	Register(BRK, handleBrk)
	Register(GETARGS, handleGetargs)
	Register(PROCESS_COUNT, handleProcessCount)
	Register(PROCESS_LIST, handleProcessList)
}

// parseArgs splits a GETARGS/EXEC argument blob on NUL bytes, the
// on-the-wire argv encoding this implementation chose (spec leaves the
// exact packing implementation-defined).
func parseArgs(raw []byte) []string {
	var out []string
	for _, part := range bytes.Split(raw, []byte{0}) {
		if len(part) > 0 {
			out = append(out, string(part))
		}
	}
	return out
}

func handleExit(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	code := int(int32(args.A0))
	_ = k.Proc.Exit(p, code)
	return uint32(code), false
}

func handleFork(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	child, err := k.Proc.Fork(p)
	if err != nil {
		return ErrVal, false
	}
	return uint32(child.PID), false
}

func handleExec(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	if args.A2 > MaxArgsLen {
		return ErrVal, false
	}
	raw, err := readUserBuf(k, p, pagedir.VAddr(args.A1), args.A2)
	if err != nil {
		return ErrVal, false
	}
	if err := k.Proc.Exec(p, path, parseArgs(raw)); err != nil {
		return ErrVal, false
	}
	p.ArgBuf = append([]byte(nil), raw...)
	return 0, false
}

func handleWait(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	waitPID := process.PID(args.A0)
	statusPtr := pagedir.VAddr(args.A1)

	pid, status, blocked, err := k.Proc.Wait(p, waitPID, statusPtr)
	if err != nil {
		return ErrVal, false
	}
	if blocked {
		return 0, true
	}
	if pid == 0 {
		return ErrVal, false
	}
	if statusPtr != 0 {
		buf := []byte{byte(status), byte(status >> 8), byte(status >> 16), byte(status >> 24)}
		_ = writeUserBuf(k, p, statusPtr, buf)
	}
	return uint32(pid), false
}

// handleSpawn is fork+exec fused into one call: the parent always gets
// the child's pid back; a child whose exec fails self-exits with a
// distinct status instead of leaving the parent to detect exec failure
// through wait().
func handleSpawn(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	raw, err := readUserBuf(k, p, pagedir.VAddr(args.A1), args.A2)
	if err != nil {
		return ErrVal, false
	}
	argv := parseArgs(raw)

	child, err := k.Proc.Fork(p)
	if err != nil {
		return ErrVal, false
	}
	if err := k.Proc.Exec(child, path, argv); err != nil {
		_ = k.Proc.Exit(child, 127)
	} else {
		child.ArgBuf = append([]byte(nil), raw...)
	}
	return uint32(child.PID), false
}

func handleKill(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	target := process.PID(args.A0)
	sig := int(args.A1)
	err := k.Proc.Kill(p, target, sig, func(code int) error { return k.Proc.Exit(p, code) })
	if err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleBrk(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if err := k.Proc.Brk(p, pagedir.VAddr(args.A0)); err != nil {
		return ErrVal, false
	}
	return uint32(p.HeapEnd), false
}

func handleGetargs(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if uint32(len(p.ArgBuf)) > args.A1 {
		return ErrVal, false
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), p.ArgBuf); err != nil {
		return ErrVal, false
	}
	return uint32(len(p.ArgBuf)), false
}

func handleProcessCount(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	return uint32(k.Proc.Count()), false
}

// procEntrySize is the packed wire size of one PROCESS_LIST record:
// pid (u32), ppid (u32), state (u8), priority (u8), name (32 bytes,
// NUL-padded/truncated).
const procEntrySize = 4 + 4 + 1 + 1 + 32

func encodeProcEntry(pr *process.Process) []byte {
	out := make([]byte, procEntrySize)
	out[0] = byte(pr.PID)
	out[1] = byte(pr.PID >> 8)
	out[2] = byte(pr.PID >> 16)
	out[3] = byte(pr.PID >> 24)
	out[4] = byte(pr.PPID)
	out[5] = byte(pr.PPID >> 8)
	out[6] = byte(pr.PPID >> 16)
	out[7] = byte(pr.PPID >> 24)
	out[8] = byte(pr.State)
	out[9] = byte(pr.Priority)
	name := pr.Name
	if len(name) > 31 {
		name = name[:31]
	}
	copy(out[10:10+32], name)
	return out
}

func handleProcessList(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	procs := k.Proc.List()
	limit := int(args.A1)
	if limit < len(procs) {
		procs = procs[:limit]
	}
	buf := make([]byte, 0, len(procs)*procEntrySize)
	for _, pr := range procs {
		buf = append(buf, encodeProcEntry(pr)...)
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), buf); err != nil {
		return ErrVal, false
	}
	return uint32(len(procs)), false
}
