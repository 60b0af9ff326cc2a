// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config holds the tunables every kernel subsystem is built
// from, following the same zero-value-means-default convention as the
// teacher's performance.CollectionConfig/DefaultCollectionConfig/
// ApplyDefaults trio.
package config

import "github.com/rohos/kernel/pkg/pagedir"

// KernelConfig bundles the fixed resources the kernel is sized with at
// bring-up: frame pool, scheduler policy, kernel-stack region, pipe
// capacity, filesystem geometry, and network identity.
type KernelConfig struct {
	// FrameBase and FrameCount describe the physical frame pool (§4.1).
	FrameBase  uint32
	FrameCount int

	// Priorities is the number of scheduler ready queues; Quantum is
	// the default time slice in ticks (§4.4).
	Priorities int
	Quantum    int

	// KStackBase is where the guarded kernel-stack region starts;
	// KStackSlots bounds how many processes can have a kernel stack
	// live at once; KStackDeferredCap bounds the deferred-free queue
	// (§4.3, §9 "must never overflow under single-process-exit
	// workloads").
	KStackBase        uint32
	KStackSlots       int
	KStackDeferredCap int

	// PipeCapacity is the byte capacity of a newly created pipe (§3).
	PipeCapacity int

	// BlockDevicePath selects the badger-backed block device directory;
	// "" uses the in-memory blockdev.Memory device instead (useful for
	// tests and for ephemeral runs that don't need persistence across
	// restarts).
	BlockDevicePath string
	// DeviceSectors is the total sector count of the block device.
	DeviceSectors uint32
	// MaxInodes bounds the inode table on Format (§4.6).
	MaxInodes uint32

	// Net is the network stack's own identity (§4.7); zero value
	// disables network bring-up.
	Net NetConfig
}

// NetConfig mirrors netstack.Config's fields so cmd/kernel can build a
// KernelConfig without importing pkg/netstack directly in its flags.
// IP/Netmask/Gateway double as the static configuration DHCP falls
// back to if UseDHCP is set and no lease arrives before
// DHCPDeadlineTicks (spec §4.7).
type NetConfig struct {
	Enabled bool
	MAC     [6]byte
	IP      [4]byte
	Netmask [4]byte
	Gateway [4]byte

	UseDHCP           bool
	DHCPDeadlineTicks uint64
}

// DefaultKernelConfig returns the configuration used when no flag or
// caller-supplied value overrides a field.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		FrameBase:         0x0010_0000,
		FrameCount:        4096, // 16 MiB of frame pool
		Priorities:        4,
		Quantum:           5,
		KStackBase:        uint32(pagedir.KernelBase) + 0x0100_0000,
		KStackSlots:       64,
		KStackDeferredCap: 8,
		PipeCapacity:      4096,
		BlockDevicePath:   "",
		DeviceSectors:     65536, // 32 MiB image
		MaxInodes:         256,
		Net: NetConfig{
			Enabled:           false,
			MAC:               [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
			IP:                [4]byte{10, 0, 2, 15},
			Netmask:           [4]byte{255, 255, 255, 0},
			Gateway:           [4]byte{10, 0, 2, 2},
			UseDHCP:           false,
			DHCPDeadlineTicks: 50,
		},
	}
}

// ApplyDefaults fills in zero-valued fields with the defaults from
// DefaultKernelConfig, leaving anything the caller already set intact.
func (c *KernelConfig) ApplyDefaults() {
	d := DefaultKernelConfig()

	if c.FrameBase == 0 {
		c.FrameBase = d.FrameBase
	}
	if c.FrameCount == 0 {
		c.FrameCount = d.FrameCount
	}
	if c.Priorities == 0 {
		c.Priorities = d.Priorities
	}
	if c.Quantum == 0 {
		c.Quantum = d.Quantum
	}
	if c.KStackBase == 0 {
		c.KStackBase = d.KStackBase
	}
	if c.KStackSlots == 0 {
		c.KStackSlots = d.KStackSlots
	}
	if c.KStackDeferredCap == 0 {
		c.KStackDeferredCap = d.KStackDeferredCap
	}
	if c.PipeCapacity == 0 {
		c.PipeCapacity = d.PipeCapacity
	}
	if c.DeviceSectors == 0 {
		c.DeviceSectors = d.DeviceSectors
	}
	if c.MaxInodes == 0 {
		c.MaxInodes = d.MaxInodes
	}
	var zeroMAC [6]byte
	if c.Net.MAC == zeroMAC {
		c.Net.MAC = d.Net.MAC
	}
	var zeroIP [4]byte
	if c.Net.IP == zeroIP {
		c.Net.IP = d.Net.IP
	}
	if c.Net.Netmask == zeroIP {
		c.Net.Netmask = d.Net.Netmask
	}
	if c.Net.Gateway == zeroIP {
		c.Net.Gateway = d.Net.Gateway
	}
	if c.Net.DHCPDeadlineTicks == 0 {
		c.Net.DHCPDeadlineTicks = d.Net.DHCPDeadlineTicks
	}
}
