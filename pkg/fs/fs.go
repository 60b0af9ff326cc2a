// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package fs is the block filesystem: a superblock, a dense inode
// table, and direct+single-indirect data block addressing over a
// blockdev.Device (spec §4.6). There is no directory data block —
// directory membership is just "every inode whose Parent field equals
// this inode's index" — so List is a table scan, not a tree walk.
//
// FS has no internal locking: like the rest of the syscall surface it
// is only ever driven from the single syscall-dispatch path, never
// concurrently.
package fs

import (
	"encoding/binary"
	"strings"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/blockdev"
	"github.com/rohos/kernel/pkg/errors"
)

// RootInode is the fixed index of the filesystem root directory.
const RootInode = 0

// FS is a mounted block filesystem.
type FS struct {
	logger logr.Logger
	dev    blockdev.Device
	sb     Superblock
	inodes []Inode
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Format writes a fresh superblock, zeroed inode table, and root
// directory inode onto dev, sized for maxInodes.
func Format(logger logr.Logger, dev blockdev.Device, maxInodes uint32) (*FS, error) {
	if maxInodes == 0 {
		return nil, errors.Validation("maxInodes must be positive")
	}
	inodeBlocks := uint32(ceilDiv(int(maxInodes), InodesPerSector))
	firstData := 1 + inodeBlocks
	if dev.Sectors() <= firstData {
		return nil, errors.Validation("device too small: %d sectors, need > %d for metadata", dev.Sectors(), firstData)
	}
	dataBlocks := dev.Sectors() - firstData

	f := &FS{
		logger: logger.WithName("fs"),
		dev:    dev,
		sb: Superblock{
			Magic:          Magic,
			Version:        Version,
			InodeBlocks:    inodeBlocks,
			FirstDataBlock: firstData,
			DataBlocks:     dataBlocks,
			MaxInodes:      maxInodes,
			FreeInodes:     maxInodes - 1,
			FreeBlocks:     dataBlocks,
		},
		inodes: make([]Inode, maxInodes),
	}
	f.inodes[RootInode] = Inode{Type: TypeDir, Parent: RootInode}
	f.inodes[RootInode].SetName("/")

	if err := f.flushInodes(); err != nil {
		return nil, err
	}
	if err := f.flushSuperblock(); err != nil {
		return nil, err
	}
	return f, nil
}

// Mount reads the superblock and loads the full inode table from dev.
func Mount(logger logr.Logger, dev blockdev.Device) (*FS, error) {
	var sector [SectorSize]byte
	if !dev.ReadSectors(0, 1, sector[:]) {
		return nil, errors.IO("fs: reading superblock")
	}
	sb := decodeSuperblock(sector[:])
	if sb.Magic != Magic {
		return nil, errors.Validation("fs: bad magic %#x", sb.Magic)
	}
	if sb.Version != Version {
		return nil, errors.Validation("fs: unsupported version %d", sb.Version)
	}

	f := &FS{logger: logger.WithName("fs"), dev: dev, sb: sb}
	f.inodes = make([]Inode, sb.MaxInodes)
	if err := f.loadInodes(); err != nil {
		return nil, err
	}
	return f, nil
}

// Unmount flushes the inode cache and superblock.
func (f *FS) Unmount() error {
	if err := f.flushInodes(); err != nil {
		return err
	}
	return f.flushSuperblock()
}

// Info returns free inode/block counts for introspection and
// FS_FREE_BLOCKS.
func (f *FS) Info() Superblock {
	return f.sb
}

func (f *FS) flushSuperblock() error {
	if !f.dev.WriteSectors(0, 1, f.sb.encode()) {
		return errors.IO("fs: writing superblock")
	}
	return nil
}

func (f *FS) flushInodes() error {
	for block := uint32(0); block < f.sb.InodeBlocks; block++ {
		var sector [SectorSize]byte
		for slot := 0; slot < InodesPerSector; slot++ {
			idx := block*InodesPerSector + uint32(slot)
			if idx >= f.sb.MaxInodes {
				break
			}
			f.inodes[idx].encode(sector[slot*InodeSize : (slot+1)*InodeSize])
		}
		if !f.dev.WriteSectors(1+block, 1, sector[:]) {
			return errors.IO("fs: writing inode block %d", block)
		}
	}
	return nil
}

func (f *FS) loadInodes() error {
	for block := uint32(0); block < f.sb.InodeBlocks; block++ {
		var sector [SectorSize]byte
		if !f.dev.ReadSectors(1+block, 1, sector[:]) {
			return errors.IO("fs: reading inode block %d", block)
		}
		for slot := 0; slot < InodesPerSector; slot++ {
			idx := block*InodesPerSector + uint32(slot)
			if idx >= f.sb.MaxInodes {
				break
			}
			f.inodes[idx] = decodeInode(sector[slot*InodeSize : (slot+1)*InodeSize])
		}
	}
	return nil
}

// --- path resolution ---------------------------------------------------

func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (f *FS) findChild(parent int, name string) (int, bool) {
	for i := range f.inodes {
		if i == parent {
			continue
		}
		in := &f.inodes[i]
		if in.Type != TypeFree && int(in.Parent) == parent && in.NameString() == name {
			return i, true
		}
	}
	return -1, false
}

// resolve walks every component of path from the root, requiring every
// non-terminal component to be a directory.
func (f *FS) resolve(path string) (int, error) {
	comps := splitPath(path)
	cur := RootInode
	for i, c := range comps {
		idx, ok := f.findChild(cur, c)
		if !ok {
			return -1, errors.Validation("fs: %q: no such file or directory", path)
		}
		if i != len(comps)-1 && f.inodes[idx].Type != TypeDir {
			return -1, errors.Validation("fs: %q: not a directory", path)
		}
		cur = idx
	}
	return cur, nil
}

// resolveParent splits path into its parent directory inode and final
// component name, validating the name.
func (f *FS) resolveParent(path string) (parent int, name string, err error) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return -1, "", errors.Validation("fs: cannot use the root as a target name")
	}
	name = comps[len(comps)-1]
	if len(name) > NameLen-1 {
		return -1, "", errors.Validation("fs: name %q exceeds %d bytes", name, NameLen-1)
	}
	parentPath := "/" + strings.Join(comps[:len(comps)-1], "/")
	parent, err = f.resolve(parentPath)
	if err != nil {
		return -1, "", err
	}
	if f.inodes[parent].Type != TypeDir {
		return -1, "", errors.Validation("fs: parent of %q is not a directory", path)
	}
	return parent, name, nil
}

func (f *FS) firstFreeInode() (int, bool) {
	for i := range f.inodes {
		if f.inodes[i].Type == TypeFree {
			return i, true
		}
	}
	return -1, false
}

// --- create / list / rename / delete -----------------------------------

func (f *FS) create(path string, typ Type) (int, error) {
	parent, name, err := f.resolveParent(path)
	if err != nil {
		return -1, err
	}
	if _, exists := f.findChild(parent, name); exists {
		return -1, errors.Validation("fs: %q already exists", path)
	}
	idx, ok := f.firstFreeInode()
	if !ok {
		return -1, errors.Resource("fs: no free inodes")
	}

	f.inodes[idx] = Inode{Type: typ, Parent: uint16(parent)}
	f.inodes[idx].SetName(name)
	f.sb.FreeInodes--

	if err := f.flushInodes(); err != nil {
		return -1, err
	}
	return idx, nil
}

// CreateFile creates an empty regular file at path.
func (f *FS) CreateFile(path string) (int, error) { return f.create(path, TypeFile) }

// CreateDir creates an empty directory at path.
func (f *FS) CreateDir(path string) (int, error) { return f.create(path, TypeDir) }

// DirEntry is one entry returned by List.
type DirEntry struct {
	Inode int
	Name  string
	Type  Type
	Size  uint32
}

// List enumerates every inode whose parent is the directory at path.
func (f *FS) List(path string) ([]DirEntry, error) {
	idx, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	if f.inodes[idx].Type != TypeDir {
		return nil, errors.Validation("fs: %q is not a directory", path)
	}

	var out []DirEntry
	for i := range f.inodes {
		in := &f.inodes[i]
		if i == idx || in.Type == TypeFree || int(in.Parent) != idx {
			continue
		}
		out = append(out, DirEntry{Inode: i, Name: in.NameString(), Type: in.Type, Size: in.Size})
	}
	return out, nil
}

// Stat resolves path and returns its inode metadata.
func (f *FS) Stat(path string) (DirEntry, error) {
	idx, err := f.resolve(path)
	if err != nil {
		return DirEntry{}, err
	}
	in := &f.inodes[idx]
	return DirEntry{Inode: idx, Name: in.NameString(), Type: in.Type, Size: in.Size}, nil
}

// Perm returns the permission bits of the inode at path.
func (f *FS) Perm(path string) (uint8, error) {
	idx, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	return f.inodes[idx].Perm, nil
}

// Chmod sets the permission bits of the inode at path (supplemented
// from original_source/kernel/fs.c's owner/group/other mode field; see
// SPEC_FULL.md §4).
func (f *FS) Chmod(path string, perm uint8) error {
	idx, err := f.resolve(path)
	if err != nil {
		return err
	}
	f.inodes[idx].Perm = perm
	return f.flushInodes()
}

// Rename changes only the final path component; the new name must not
// collide with an existing sibling.
func (f *FS) Rename(path, newName string) error {
	if strings.Contains(newName, "/") {
		return errors.Validation("fs: name %q may not contain '/'", newName)
	}
	if len(newName) == 0 || len(newName) > NameLen-1 {
		return errors.Validation("fs: invalid name length for %q", newName)
	}
	idx, err := f.resolve(path)
	if err != nil {
		return err
	}
	if idx == RootInode {
		return errors.Validation("fs: cannot rename root")
	}
	parent := int(f.inodes[idx].Parent)
	if sib, exists := f.findChild(parent, newName); exists && sib != idx {
		return errors.Validation("fs: %q already exists", newName)
	}
	f.inodes[idx].SetName(newName)
	return f.flushInodes()
}

// Delete removes the inode at path. For a file this frees its direct
// and indirect data blocks; for a directory only direct blocks are
// freed (directories never use indirect storage). Deleting a
// non-empty directory is not rejected here — the caller is expected
// to enforce that.
func (f *FS) Delete(path string) error {
	idx, err := f.resolve(path)
	if err != nil {
		return err
	}
	if idx == RootInode {
		return errors.Validation("fs: cannot delete root")
	}
	if err := f.freeInodeBlocks(idx); err != nil {
		return err
	}
	f.inodes[idx] = Inode{}
	f.sb.FreeInodes++
	if err := f.flushInodes(); err != nil {
		return err
	}
	return f.flushSuperblock()
}

// --- block allocation ---------------------------------------------------

func (f *FS) isBlockFree(b uint32) bool {
	for i := range f.inodes {
		in := &f.inodes[i]
		if in.Type == TypeFree {
			continue
		}
		for k := 0; k < Direct; k++ {
			if in.Blocks[k] == b {
				return false
			}
		}
		if in.Blocks[IndirectIdx] == 0 {
			continue
		}
		if in.Blocks[IndirectIdx] == b {
			return false
		}
		var data [SectorSize]byte
		if f.dev.ReadSectors(in.Blocks[IndirectIdx], 1, data[:]) {
			for e := 0; e < PtrsPerIndir; e++ {
				if binary.LittleEndian.Uint32(data[e*4:e*4+4]) == b {
					return false
				}
			}
		}
	}
	return true
}

func (f *FS) allocBlock() (uint32, error) {
	for b := f.sb.FirstDataBlock; b < f.sb.FirstDataBlock+f.sb.DataBlocks; b++ {
		if f.isBlockFree(b) {
			if f.sb.FreeBlocks > 0 {
				f.sb.FreeBlocks--
			}
			return b, nil
		}
	}
	return 0, errors.Resource("fs: no free data blocks")
}

// getBlock maps a file-relative block index to an absolute device
// block, allocating it on demand when allocate is true. A newly
// allocated data block is not zero-filled; a newly allocated indirect
// table starts as all zeros. With allocate false, an unallocated index
// returns block 0 (a hole) rather than an error.
func (f *FS) getBlock(inodeIdx, i int, allocate bool) (uint32, error) {
	in := &f.inodes[inodeIdx]

	if i < Direct {
		if in.Blocks[i] == 0 {
			if !allocate {
				return 0, nil
			}
			nb, err := f.allocBlock()
			if err != nil {
				return 0, err
			}
			in.Blocks[i] = nb
		}
		return in.Blocks[i], nil
	}

	j := i - Direct
	if j >= PtrsPerIndir {
		return 0, errors.Validation("fs: block index %d exceeds max file size", i)
	}

	var data [SectorSize]byte
	if in.Blocks[IndirectIdx] == 0 {
		if !allocate {
			return 0, nil
		}
		nb, err := f.allocBlock()
		if err != nil {
			return 0, err
		}
		in.Blocks[IndirectIdx] = nb
	} else if !f.dev.ReadSectors(in.Blocks[IndirectIdx], 1, data[:]) {
		return 0, errors.IO("fs: reading indirect block for inode %d", inodeIdx)
	}

	entryOff := j * 4
	ptr := binary.LittleEndian.Uint32(data[entryOff : entryOff+4])
	if ptr == 0 {
		if !allocate {
			return 0, nil
		}
		nb, err := f.allocBlock()
		if err != nil {
			return 0, err
		}
		ptr = nb
		binary.LittleEndian.PutUint32(data[entryOff:entryOff+4], ptr)
		if !f.dev.WriteSectors(in.Blocks[IndirectIdx], 1, data[:]) {
			return 0, errors.IO("fs: writing indirect block for inode %d", inodeIdx)
		}
	}
	return ptr, nil
}

// freeInodeBlocks clears every data block an inode references and
// bumps free_blocks bookkeeping accordingly.
func (f *FS) freeInodeBlocks(idx int) error {
	in := &f.inodes[idx]
	var freed uint32
	for k := 0; k < Direct; k++ {
		if in.Blocks[k] != 0 {
			freed++
			in.Blocks[k] = 0
		}
	}
	if in.Type == TypeFile && in.Blocks[IndirectIdx] != 0 {
		var data [SectorSize]byte
		if f.dev.ReadSectors(in.Blocks[IndirectIdx], 1, data[:]) {
			for e := 0; e < PtrsPerIndir; e++ {
				if binary.LittleEndian.Uint32(data[e*4:e*4+4]) != 0 {
					freed++
				}
			}
		}
		freed++ // the indirect block itself
		in.Blocks[IndirectIdx] = 0
	}
	f.sb.FreeBlocks += freed
	return nil
}

// --- read / write --------------------------------------------------------

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Write implements the file write contract: only offset 0 is
// supported. Existing blocks are freed and that state persisted
// before any new allocation, so a crash mid-write can never leave a
// block double-counted as both freed and in-use. Data is written one
// sector at a time up to MaxFileBlocks; the first failure stops the
// walk and whatever prefix completed is committed.
func (f *FS) Write(path string, buf []byte, offset uint32) (int, error) {
	if offset != 0 {
		return 0, errors.Validation("fs: writes only support offset 0")
	}
	idx, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	in := &f.inodes[idx]
	if in.Type != TypeFile {
		return 0, errors.Validation("fs: %q is not a file", path)
	}

	if err := f.freeInodeBlocks(idx); err != nil {
		return 0, err
	}
	if err := f.flushInodes(); err != nil {
		return 0, err
	}

	numBlocks := minInt(ceilDiv(len(buf), SectorSize), MaxFileBlocks)
	written := 0
	for i := 0; i < numBlocks; i++ {
		blk, err := f.getBlock(idx, i, true)
		if err != nil {
			break
		}
		end := minInt((i+1)*SectorSize, len(buf))
		var sector [SectorSize]byte
		copy(sector[:], buf[i*SectorSize:end])
		if !f.dev.WriteSectors(blk, 1, sector[:]) {
			break
		}
		written = end
	}

	in.Size = uint32(written)
	if err := f.flushInodes(); err != nil {
		return written, err
	}
	if err := f.flushSuperblock(); err != nil {
		return written, err
	}
	return written, nil
}

// Read copies up to len(buf) bytes starting at offset, clipped to the
// file's recorded size. Holes (unallocated blocks within the file's
// size, which only occur if a prior write was short) read as zero.
func (f *FS) Read(path string, buf []byte, offset uint32) (int, error) {
	idx, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	in := &f.inodes[idx]
	if in.Type != TypeFile {
		return 0, errors.Validation("fs: %q is not a file", path)
	}
	if offset >= in.Size {
		return 0, nil
	}

	end := offset + uint32(len(buf))
	if end > in.Size {
		end = in.Size
	}
	toRead := end - offset

	var n uint32
	block := int(offset / SectorSize)
	for n < toRead {
		blk, err := f.getBlock(idx, block, false)
		if err != nil {
			return int(n), err
		}
		var sector [SectorSize]byte
		if blk != 0 && !f.dev.ReadSectors(blk, 1, sector[:]) {
			return int(n), errors.IO("fs: reading data block for %q", path)
		}

		srcOff := uint32(0)
		if uint32(block)*SectorSize < offset {
			srcOff = offset - uint32(block)*SectorSize
		}
		avail := uint32(SectorSize) - srcOff
		remain := toRead - n
		chunk := avail
		if remain < chunk {
			chunk = remain
		}
		copy(buf[n:n+chunk], sector[srcOff:srcOff+chunk])
		n += chunk
		block++
	}
	return int(n), nil
}
