// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package process_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/ipc/pipe"
	"github.com/rohos/kernel/pkg/kstack"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func newScheduler(t *testing.T) *process.Scheduler {
	t.Helper()
	frames, err := frame.New(logr.Discard(), 0x100000, 256)
	require.NoError(t, err)
	pd := pagedir.NewService(logr.Discard(), frames)
	ks, err := kstack.New(logr.Discard(), pd, pagedir.KernelBase, 16, 8)
	require.NoError(t, err)
	sched, err := process.New(logr.Discard(), pd, ks, frames, process.Config{Priorities: 4, Quantum: 3}, nil)
	require.NoError(t, err)
	return sched
}

func TestPickNextIsLowestNonEmptyPriority(t *testing.T) {
	sched := newScheduler(t)

	low, err := sched.Spawn("low", 3)
	require.NoError(t, err)
	high, err := sched.Spawn("high", 0)
	require.NoError(t, err)
	_ = low

	assert.Equal(t, high.PID, sched.PickNext())
}

func TestRoundRobinFairnessAcrossEqualPriority(t *testing.T) {
	// Spec scenario: N equal-priority processes each accumulate
	// total_time ~= N*quantum after N*3*quantum ticks of always
	// yielding back to the scheduler at slice exhaustion.
	sched := newScheduler(t)

	const n = 3
	procs := make([]*process.Process, n)
	for i := 0; i < n; i++ {
		p, err := sched.Spawn("p", 1)
		require.NoError(t, err)
		procs[i] = p
	}

	require.NoError(t, sched.Switch(sched.PickNext()))
	for total := 0; total < n*3*3; total++ {
		sched.Tick()
		if sched.ShouldPreempt() {
			if next := sched.PickNext(); next != 0 {
				require.NoError(t, sched.Switch(next))
			}
		}
	}

	for _, p := range procs {
		assert.InDelta(t, n*3, p.TotalTime, 3)
	}
}

func TestForkClonesAddressSpaceAndFDs(t *testing.T) {
	sched := newScheduler(t)
	parent, err := sched.Spawn("parent", 0)
	require.NoError(t, err)

	p, err := pipe.New(16)
	require.NoError(t, err)
	p.AddReader()
	fd := parent.AllocFD()
	require.NotEqual(t, -1, fd)
	parent.FDs[fd] = process.FD{Kind: process.FDPipeRead, Pipe: p}

	child, err := sched.Fork(parent)
	require.NoError(t, err)

	assert.Equal(t, parent.PID, child.PPID)
	assert.EqualValues(t, 0, child.Trap.EAX)
	assert.Equal(t, process.FDPipeRead, child.FDs[fd].Kind)
	assert.Equal(t, 2, p.Readers(), "fork must bump the pipe reader refcount")
}

func TestWaitBlocksThenHarvestsOnExit(t *testing.T) {
	sched := newScheduler(t)
	parent, err := sched.Spawn("parent", 0)
	require.NoError(t, err)
	child, err := sched.Fork(parent)
	require.NoError(t, err)

	_, _, blocked, err := sched.Wait(parent, process.AnyChild, 0)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, process.StateBlocked, parent.State)

	require.NoError(t, sched.Exit(child, 7))

	assert.Equal(t, process.StateReady, parent.State)
	assert.EqualValues(t, child.PID, parent.Trap.EAX)
	assert.Nil(t, sched.Lookup(child.PID), "harvested zombie must be removed from the table")
}

func TestWaitWithNoChildReturnsImmediately(t *testing.T) {
	sched := newScheduler(t)
	parent, err := sched.Spawn("parent", 0)
	require.NoError(t, err)

	pid, _, blocked, err := sched.Wait(parent, process.AnyChild, 0)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.EqualValues(t, 0, pid)
}

func TestSleepBlocksUntilTickArrives(t *testing.T) {
	sched := newScheduler(t)
	p, err := sched.Spawn("p", 0)
	require.NoError(t, err)

	blocked := sched.Sleep(p, 3)
	assert.True(t, blocked)
	assert.Equal(t, process.StateBlocked, p.State)

	sched.Tick()
	sched.Tick()
	assert.Equal(t, process.StateBlocked, p.State)

	sched.Tick()
	assert.Equal(t, process.StateReady, p.State)
}

func TestKillSelfIsExitWithSignalOffset(t *testing.T) {
	sched := newScheduler(t)
	p, err := sched.Spawn("p", 0)
	require.NoError(t, err)

	var exitCode int
	err = sched.Kill(p, p.PID, 9, func(code int) error {
		exitCode = code
		return sched.Exit(p, code)
	})
	require.NoError(t, err)
	assert.Equal(t, 137, exitCode)
	assert.Equal(t, process.StateZombie, p.State)
}

func TestKillOtherForceZombifies(t *testing.T) {
	sched := newScheduler(t)
	caller, err := sched.Spawn("caller", 0)
	require.NoError(t, err)
	victim, err := sched.Spawn("victim", 0)
	require.NoError(t, err)

	require.NoError(t, sched.Kill(caller, victim.PID, 9, nil))
	assert.Equal(t, process.StateZombie, victim.State)
	assert.Equal(t, 137, victim.ExitCode)
}

func TestBrkGrowsAndShrinksHeap(t *testing.T) {
	sched := newScheduler(t)
	p, err := sched.Spawn("p", 0)
	require.NoError(t, err)
	p.HeapBase = pagedir.UserStart
	p.HeapEnd = pagedir.UserStart

	require.NoError(t, sched.Brk(p, pagedir.UserStart+pagedir.PageSize*2))
	assert.EqualValues(t, pagedir.UserStart+pagedir.PageSize*2, p.HeapEnd)

	require.NoError(t, sched.Brk(p, pagedir.UserStart))
	assert.EqualValues(t, pagedir.UserStart, p.HeapEnd)
}

func TestExitDefersStackFreeUntilSwitch(t *testing.T) {
	frames, err := frame.New(logr.Discard(), 0x100000, 256)
	require.NoError(t, err)
	pd := pagedir.NewService(logr.Discard(), frames)
	ks, err := kstack.New(logr.Discard(), pd, pagedir.KernelBase, 2, 4)
	require.NoError(t, err)
	sched, err := process.New(logr.Discard(), pd, ks, frames, process.Config{Priorities: 1, Quantum: 3}, nil)
	require.NoError(t, err)

	a, err := sched.Spawn("a", 0)
	require.NoError(t, err)
	b, err := sched.Spawn("b", 0)
	require.NoError(t, err)

	require.NoError(t, sched.Switch(a.PID))
	require.NoError(t, sched.Exit(a, 0))
	assert.Equal(t, 1, ks.PendingDeferred(), "exiting the running process must defer its stack free")

	require.NoError(t, sched.Switch(b.PID))
	assert.Equal(t, 0, ks.PendingDeferred(), "switching away must drain the deferred free")
}

func TestKillOtherFreesStackImmediately(t *testing.T) {
	frames, err := frame.New(logr.Discard(), 0x100000, 256)
	require.NoError(t, err)
	pd := pagedir.NewService(logr.Discard(), frames)
	ks, err := kstack.New(logr.Discard(), pd, pagedir.KernelBase, 2, 4)
	require.NoError(t, err)
	sched, err := process.New(logr.Discard(), pd, ks, frames, process.Config{Priorities: 1, Quantum: 3}, nil)
	require.NoError(t, err)

	caller, err := sched.Spawn("caller", 0)
	require.NoError(t, err)
	victim, err := sched.Spawn("victim", 0)
	require.NoError(t, err)

	require.NoError(t, sched.Switch(caller.PID))
	require.NoError(t, sched.Kill(caller, victim.PID, 9, nil))
	assert.Equal(t, 0, ks.PendingDeferred(), "killing a process other than the running one must free its stack immediately")
}

func TestPipeWriteWakesBlockedReader(t *testing.T) {
	sched := newScheduler(t)
	reader, err := sched.Spawn("reader", 0)
	require.NoError(t, err)

	pl, err := pipe.New(16)
	require.NoError(t, err)
	pl.AddReader()
	pl.AddWriter()
	rfd := reader.AllocFD()
	reader.FDs[rfd] = process.FD{Kind: process.FDPipeRead, Pipe: pl}

	sched.BlockOnPipe(reader, true)
	assert.Equal(t, process.StateBlocked, reader.State)

	n, err := sched.PipeWrite(&process.FD{Kind: process.FDPipeWrite, Pipe: pl}, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, process.StateReady, reader.State)
}

func TestClosingLastWriterWakesBlockedReader(t *testing.T) {
	sched := newScheduler(t)
	reader, err := sched.Spawn("reader", 0)
	require.NoError(t, err)
	writer, err := sched.Spawn("writer", 0)
	require.NoError(t, err)

	pl, err := pipe.New(16)
	require.NoError(t, err)
	pl.AddReader()
	pl.AddWriter()

	rfd := reader.AllocFD()
	reader.FDs[rfd] = process.FD{Kind: process.FDPipeRead, Pipe: pl}
	wfd := writer.AllocFD()
	writer.FDs[wfd] = process.FD{Kind: process.FDPipeWrite, Pipe: pl}

	sched.BlockOnPipe(reader, true)
	require.Equal(t, process.StateBlocked, reader.State)

	require.NoError(t, sched.CloseFD(writer, wfd))
	assert.Equal(t, process.StateReady, reader.State)
	assert.True(t, pl.AtEOF())
}

func TestClosingLastReaderWakesBlockedWriter(t *testing.T) {
	sched := newScheduler(t)
	reader, err := sched.Spawn("reader", 0)
	require.NoError(t, err)
	writer, err := sched.Spawn("writer", 0)
	require.NoError(t, err)

	pl, err := pipe.New(2)
	require.NoError(t, err)
	pl.AddReader()
	pl.AddWriter()

	rfd := reader.AllocFD()
	reader.FDs[rfd] = process.FD{Kind: process.FDPipeRead, Pipe: pl}
	wfd := writer.AllocFD()
	writer.FDs[wfd] = process.FD{Kind: process.FDPipeWrite, Pipe: pl}

	n, err := pl.Write([]byte("xy"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sched.BlockOnPipe(writer, false)
	require.Equal(t, process.StateBlocked, writer.State)

	require.NoError(t, sched.CloseFD(reader, rfd))
	assert.Equal(t, process.StateReady, writer.State)
}
