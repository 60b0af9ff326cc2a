// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package fs

import "encoding/binary"

// Type is an inode's on-disk kind.
type Type uint8

const (
	TypeFree Type = iota
	TypeFile
	TypeDir
)

const (
	// NameLen is the fixed, NUL-padded name field width.
	NameLen = 28
	// Direct is the number of direct block pointers (index 0..10).
	Direct = 11
	// IndirectIdx is the block field holding the single indirect
	// block's address.
	IndirectIdx = Direct
	// NumBlockPtrs is the total blocks[] slots (direct + 1 indirect).
	NumBlockPtrs = Direct + 1
	// PtrsPerIndir is how many u32 block numbers fit in one 512-byte
	// indirect block.
	PtrsPerIndir = SectorSize / 4
	// MaxFileBlocks is the largest number of data blocks a file can
	// reference: 11 direct + 128 through one indirect block.
	MaxFileBlocks = Direct + PtrsPerIndir

	// InodeSize is the packed on-disk size of one inode record:
	// size(4) + type(1) + perm(1) + parent(2) + blocks(12*4) + name(28).
	InodeSize = 4 + 1 + 1 + 2 + NumBlockPtrs*4 + NameLen
	// InodesPerSector is how densely inodes pack into one sector.
	InodesPerSector = SectorSize / InodeSize
)

// Inode is one block-filesystem inode record (spec "Filesystem on-disk
// format").
type Inode struct {
	Size   uint32
	Type   Type
	Perm   uint8
	Parent uint16
	Blocks [NumBlockPtrs]uint32
	Name   [NameLen]byte
}

// NameString returns the NUL-terminated name as a Go string.
func (n *Inode) NameString() string {
	for i, b := range n.Name {
		if b == 0 {
			return string(n.Name[:i])
		}
	}
	return string(n.Name[:])
}

// SetName truncates name to NameLen-1 bytes and NUL-pads the rest.
func (n *Inode) SetName(name string) {
	n.Name = [NameLen]byte{}
	copy(n.Name[:NameLen-1], name)
}

func (n *Inode) encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], n.Size)
	b[4] = byte(n.Type)
	b[5] = n.Perm
	binary.LittleEndian.PutUint16(b[6:8], n.Parent)
	off := 8
	for i := 0; i < NumBlockPtrs; i++ {
		binary.LittleEndian.PutUint32(b[off:off+4], n.Blocks[i])
		off += 4
	}
	copy(b[off:off+NameLen], n.Name[:])
}

func decodeInode(b []byte) Inode {
	var n Inode
	n.Size = binary.LittleEndian.Uint32(b[0:4])
	n.Type = Type(b[4])
	n.Perm = b[5]
	n.Parent = binary.LittleEndian.Uint16(b[6:8])
	off := 8
	for i := 0; i < NumBlockPtrs; i++ {
		n.Blocks[i] = binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
	}
	copy(n.Name[:], b[off:off+NameLen])
	return n
}
