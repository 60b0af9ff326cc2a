// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command kernel boots the simulator: it builds the frame pool, page
// directory service, kernel-stack allocator, scheduler, block device,
// filesystem, network stack, and syscall dispatcher described by
// SPEC_FULL.md, then drives the tick/schedule/dispatch loop that would,
// on real hardware, be split across the timer IRQ and the int 0x80
// trap handler.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/rohos/kernel/pkg/blockdev"
	"github.com/rohos/kernel/pkg/config"
	"github.com/rohos/kernel/pkg/device"
	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/fs"
	"github.com/rohos/kernel/pkg/introspection"
	"github.com/rohos/kernel/pkg/kstack"
	"github.com/rohos/kernel/pkg/netstack"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
	ksys "github.com/rohos/kernel/pkg/syscall"
)

var (
	blockDevicePath string
	frameCount      int
	priorities      int
	quantum         int
	tickInterval    time.Duration
	netEnabled      bool
	dhcpEnabled     bool
	verbose         bool
)

func init() {
	flag.StringVar(&blockDevicePath, "block-device", "",
		"Directory backing the badger-based block device; empty runs in-memory")
	flag.IntVar(&frameCount, "frames", 0, "Physical frame pool size (0 = default)")
	flag.IntVar(&priorities, "priorities", 0, "Scheduler ready-queue count (0 = default)")
	flag.IntVar(&quantum, "quantum", 0, "Scheduler time slice in ticks (0 = default)")
	flag.DurationVar(&tickInterval, "tick-interval", 10*time.Millisecond,
		"Wall-clock duration of one scheduler tick")
	flag.BoolVar(&netEnabled, "net", false, "Bring up the network stack")
	flag.BoolVar(&dhcpEnabled, "dhcp", false,
		"Negotiate a DHCP lease at bring-up, falling back to the static address if none arrives in time")
	flag.BoolVar(&verbose, "v", false, "Enable debug-level logging")
}

func newLogger() logr.Logger {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	zl, err := zcfg.Build()
	if err != nil {
		// zap's own config construction failing is unrecoverable; fall
		// back to a discarded logger rather than crash bring-up over
		// a logging misconfiguration.
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}

func main() {
	flag.Parse()
	logger := newLogger()

	cfg := config.KernelConfig{
		FrameCount:      frameCount,
		Priorities:      priorities,
		Quantum:         quantum,
		BlockDevicePath: blockDevicePath,
		Net:             config.NetConfig{Enabled: netEnabled, UseDHCP: dhcpEnabled},
	}
	cfg.ApplyDefaults()

	k, sched, err := bringUp(logger, cfg)
	if err != nil {
		logger.Error(err, "bring-up failed")
		os.Exit(1)
	}
	defer shutdown(k)

	init0, err := sched.Spawn("init", 0)
	if err != nil {
		logger.Error(err, "failed to spawn init")
		os.Exit(1)
	}
	logger.Info("kernel ready", "init_pid", init0.PID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	run(ctx, logger, k, sched)
}

// kernelState is everything bringUp assembles, kept alongside the
// *syscall.Kernel bundle so shutdown can release owning resources
// (the block device) that Kernel itself doesn't hold.
type kernelState struct {
	*ksys.Kernel
	dev blockdev.Device
}

func bringUp(logger logr.Logger, cfg config.KernelConfig) (*kernelState, *process.Scheduler, error) {
	frames, err := frame.New(logger, frame.Addr(cfg.FrameBase), cfg.FrameCount)
	if err != nil {
		return nil, nil, errors.State("bring-up: frame allocator: %v", err)
	}

	pd := pagedir.NewService(logger, frames)

	ks, err := kstack.New(logger, pd, pagedir.VAddr(cfg.KStackBase), cfg.KStackSlots, cfg.KStackDeferredCap)
	if err != nil {
		return nil, nil, errors.State("bring-up: kernel stack allocator: %v", err)
	}

	var dev blockdev.Device
	if cfg.BlockDevicePath == "" {
		dev = blockdev.NewMemory(cfg.DeviceSectors)
	} else {
		bdev, err := blockdev.OpenBadger(cfg.BlockDevicePath, cfg.DeviceSectors)
		if err != nil {
			return nil, nil, errors.IO("bring-up: opening block device: %v", err)
		}
		dev = bdev
	}

	fsys, err := fs.Mount(logger, dev)
	if err != nil {
		fsys, err = fs.Format(logger, dev, cfg.MaxInodes)
		if err != nil {
			return nil, nil, errors.IO("bring-up: formatting filesystem: %v", err)
		}
	}

	var net *netstack.Stack
	if cfg.Net.Enabled {
		net, err = netstack.New(logger, netstack.Config{
			MAC:     cfg.Net.MAC,
			IP:      cfg.Net.IP,
			Netmask: cfg.Net.Netmask,
			Gateway: cfg.Net.Gateway,
		})
		if err != nil {
			return nil, nil, errors.State("bring-up: network stack: %v", err)
		}
		if cfg.Net.UseDHCP {
			acquireDHCP(logger, net, cfg.Net)
		}
	}

	loadELF := func(path string) ([]byte, error) {
		st, err := fsys.Stat(path)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, st.Size)
		n, err := fsys.Read(path, buf, 0)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}

	sched, err := process.New(logger, pd, ks, frames, process.Config{
		Priorities: cfg.Priorities,
		Quantum:    cfg.Quantum,
	}, loadELF)
	if err != nil {
		return nil, nil, errors.State("bring-up: scheduler: %v", err)
	}

	introspection.NewFramePoolCollector(frames)
	introspection.NewSchedulerCollector(sched)
	introspection.NewFilesystemCollector(fsys)

	k := &ksys.Kernel{
		Logger:     logger,
		Frames:     frames,
		PageDir:    pd,
		Proc:       sched,
		FS:         fsys,
		Net:        net,
		Introspect: introspection.NewManager(logger, introspection.AllEnabled()),
		Console:    device.NewMemConsole(),
		Audio:      device.NewMemAudio(),
		Graphics:   device.NewMemGraphics(0, 320, 200),
	}
	return &kernelState{Kernel: k, dev: dev}, sched, nil
}

// acquireDHCP runs the bounded DISCOVER/OFFER/REQUEST/ACK polling loop
// against net, driven entirely by a synthetic tick counter rather than
// wall-clock time, since bring-up happens before the scheduler's own
// clock starts. If no lease arrives before netCfg.DHCPDeadlineTicks, it
// logs and leaves net on the static address it was constructed with
// (spec §4.7: "falls back to hard-coded static config if timeout
// elapses").
func acquireDHCP(logger logr.Logger, net *netstack.Stack, netCfg config.NetConfig) {
	neg, err := netstack.NewDHCPNegotiator(net, netCfg.MAC, 1, netCfg.DHCPDeadlineTicks)
	if err != nil {
		logger.Error(err, "dhcp: could not bind client port, using static configuration")
		return
	}
	defer neg.Close()

	for tick := uint64(0); ; tick++ {
		err := neg.Poll(tick)
		if err == nil {
			ip, server := neg.Lease()
			net.SetIP(ip)
			logger.Info("dhcp lease acquired", "ip", ip, "server", server)
			return
		}
		if !errors.Retryable(err) {
			logger.Info("dhcp lease not acquired, using static configuration", "reason", err.Error())
			return
		}
	}
}

func shutdown(k *kernelState) {
	if k == nil {
		return
	}
	if err := k.FS.Unmount(); err != nil {
		k.Logger.Error(err, "unmount failed")
	}
	if closer, ok := k.dev.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			k.Logger.Error(err, "block device close failed")
		}
	}
}

// run drives the tick/preempt/dispatch loop. Each iteration plays the
// role the timer IRQ and the int 0x80 trap handler split on real
// hardware: advance the clock, let the scheduler decide whether to
// switch, then service whatever syscall the now-current process
// trapped into.
func run(ctx context.Context, logger logr.Logger, k *kernelState, sched *process.Scheduler) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case <-ticker.C:
			sched.Tick()
			if sched.ShouldPreempt() {
				if next := sched.PickNext(); next != 0 {
					if err := sched.Switch(next); err != nil {
						logger.Error(err, "scheduler switch failed")
					}
				}
			}
			cur := sched.Current()
			if cur == nil {
				continue
			}
			ksys.Default().Dispatch(k.Kernel, cur)
		}
	}
}
