// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package introspection

import (
	"github.com/rohos/kernel/pkg/fs"
	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/process"
)

// FramePoolCollector snapshots the physical frame allocator.
type FramePoolCollector struct {
	frames *frame.Allocator
}

// NewFramePoolCollector builds a FramePoolCollector over frames and
// registers it with the default registry.
func NewFramePoolCollector(frames *frame.Allocator) *FramePoolCollector {
	c := &FramePoolCollector{frames: frames}
	Register(c)
	return c
}

func (c *FramePoolCollector) Type() StatType { return StatFramePool }
func (c *FramePoolCollector) Name() string   { return "frame pool" }

func (c *FramePoolCollector) Collect() (any, error) {
	s := c.frames.Stats()
	return FramePoolStats{Total: s.Total, Free: s.Free, Used: s.Used}, nil
}

// SchedulerCollector snapshots the process table.
type SchedulerCollector struct {
	sched *process.Scheduler
}

// NewSchedulerCollector builds a SchedulerCollector over sched and
// registers it with the default registry.
func NewSchedulerCollector(sched *process.Scheduler) *SchedulerCollector {
	c := &SchedulerCollector{sched: sched}
	Register(c)
	return c
}

func (c *SchedulerCollector) Type() StatType { return StatScheduler }
func (c *SchedulerCollector) Name() string   { return "scheduler" }

func (c *SchedulerCollector) Collect() (any, error) {
	procs := c.sched.List()
	stats := SchedulerStats{ProcessCount: len(procs)}

	maxPrio := -1
	for _, p := range procs {
		if p.Priority > maxPrio {
			maxPrio = p.Priority
		}
	}
	if maxPrio >= 0 {
		stats.ReadyPerPrio = make([]int, maxPrio+1)
	}
	for _, p := range procs {
		switch p.State {
		case process.StateReady:
			stats.ReadyPerPrio[p.Priority]++
		case process.StateBlocked:
			stats.BlockedCount++
		case process.StateZombie:
			stats.ZombieCount++
		}
	}
	return stats, nil
}

// FilesystemCollector snapshots the mounted filesystem's free-space
// bookkeeping.
type FilesystemCollector struct {
	fs *fs.FS
}

// NewFilesystemCollector builds a FilesystemCollector over f and
// registers it with the default registry.
func NewFilesystemCollector(f *fs.FS) *FilesystemCollector {
	c := &FilesystemCollector{fs: f}
	Register(c)
	return c
}

func (c *FilesystemCollector) Type() StatType { return StatFilesystem }
func (c *FilesystemCollector) Name() string   { return "filesystem" }

func (c *FilesystemCollector) Collect() (any, error) {
	sb := c.fs.Info()
	return FilesystemStats{FreeInodes: sb.FreeInodes, FreeBlocks: sb.FreeBlocks}, nil
}

// PipeCollector snapshots how many pipes are currently open. It reads
// a caller-supplied count function rather than owning pipe lifecycle
// itself, since pipes are created and destroyed through fd tables the
// scheduler already owns.
type PipeCollector struct {
	active func() int
}

// NewPipeCollector builds a PipeCollector that calls active() on
// demand, and registers it with the default registry.
func NewPipeCollector(active func() int) *PipeCollector {
	c := &PipeCollector{active: active}
	Register(c)
	return c
}

func (c *PipeCollector) Type() StatType { return StatPipes }
func (c *PipeCollector) Name() string   { return "pipes" }

func (c *PipeCollector) Collect() (any, error) {
	return PipeStats{Active: c.active()}, nil
}
