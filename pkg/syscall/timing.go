// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import "github.com/rohos/kernel/pkg/process"

func init() {
	Register(GET_TICKS, handleGetTicks)
	Register(SLEEP_MS, handleSleepMs)
}

// TicksPerSecond is this implementation's timer interrupt rate (a PIT
// programmed for 100Hz, one tick every 10ms).
const TicksPerSecond = 100

func msToTicks(ms uint32) uint64 {
	if ms == 0 {
		return 0
	}
	ticks := uint64(ms) * TicksPerSecond / 1000
	if ticks == 0 {
		ticks = 1 // spec: durations round up to at least one tick
	}
	return ticks
}

func handleGetTicks(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	return uint32(k.Proc.Now()), false
}

func handleSleepMs(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	ticks := msToTicks(args.A0)
	if k.Proc.Sleep(p, ticks) {
		return 0, true
	}
	return 0, false
}
