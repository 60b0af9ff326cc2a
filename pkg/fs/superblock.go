// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package fs

import "encoding/binary"

// SectorSize matches blockdev.SectorSize; duplicated as an untyped
// constant so this package doesn't need to import blockdev just for
// the number.
const SectorSize = 512

// Magic identifies a formatted ROHS filesystem: "ROHS" as a 32-bit
// little-endian word.
const Magic uint32 = 0x524F4853

// Version is the only on-disk format version this package writes or
// accepts.
const Version uint32 = 1

// Superblock occupies block 0.
type Superblock struct {
	Magic          uint32
	Version        uint32
	InodeBlocks    uint32
	FirstDataBlock uint32
	DataBlocks     uint32
	MaxInodes      uint32
	FreeInodes     uint32
	FreeBlocks     uint32
}

func (s *Superblock) encode() []byte {
	b := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(b[0:4], s.Magic)
	binary.LittleEndian.PutUint32(b[4:8], s.Version)
	binary.LittleEndian.PutUint32(b[8:12], s.InodeBlocks)
	binary.LittleEndian.PutUint32(b[12:16], s.FirstDataBlock)
	binary.LittleEndian.PutUint32(b[16:20], s.DataBlocks)
	binary.LittleEndian.PutUint32(b[20:24], s.MaxInodes)
	binary.LittleEndian.PutUint32(b[24:28], s.FreeInodes)
	binary.LittleEndian.PutUint32(b[28:32], s.FreeBlocks)
	return b
}

func decodeSuperblock(b []byte) Superblock {
	return Superblock{
		Magic:          binary.LittleEndian.Uint32(b[0:4]),
		Version:        binary.LittleEndian.Uint32(b[4:8]),
		InodeBlocks:    binary.LittleEndian.Uint32(b[8:12]),
		FirstDataBlock: binary.LittleEndian.Uint32(b[12:16]),
		DataBlocks:     binary.LittleEndian.Uint32(b[16:20]),
		MaxInodes:      binary.LittleEndian.Uint32(b[20:24]),
		FreeInodes:     binary.LittleEndian.Uint32(b[24:28]),
		FreeBlocks:     binary.LittleEndian.Uint32(b[28:32]),
	}
}
