// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package blockdev is the simulated ATA block device the filesystem
// formats, mounts, and reads/writes sectors on (spec §4.6, "Block
// device"). SectorSize is fixed at 512 bytes; the FS always issues
// count=1 requests.
package blockdev

const SectorSize = 512

// Device is the sector-addressed interface the filesystem depends on.
// A real driver would issue ATA PIO/DMA commands; both implementations
// here are in-process stand-ins for one.
type Device interface {
	// ReadSectors reads count sectors starting at lba into buf
	// (len(buf) must be >= count*SectorSize). Returns false on I/O
	// failure, matching ata_read_sectors's bool contract.
	ReadSectors(lba, count uint32, buf []byte) bool
	// WriteSectors writes count sectors starting at lba from buf.
	WriteSectors(lba, count uint32, buf []byte) bool
	// Sectors reports the device's total sector count.
	Sectors() uint32
}
