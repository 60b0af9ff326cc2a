// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"github.com/rohos/kernel/pkg/fs"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func init() {
	Register(LISTDIR, handleListdir)
	Register(MKDIR, handleMkdir)
	Register(RM, handleRm)
	Register(TOUCH, handleTouch)
	Register(RENAME, handleRename)
	Register(WRITEFILE, handleWritefile)
	Register(FS_FREE_BLOCKS, handleFreeBlocks)
	Register(GETCWD, handleGetcwd)
	Register(SETCWD, handleSetcwd)
}

// dirEntrySize is the packed wire size of one LISTDIR entry: inode
// (u32), type (u8), size (u32), name (28 bytes, NUL-padded).
const dirEntrySize = 4 + 1 + 4 + 28

func encodeDirEntry(e fs.DirEntry) []byte {
	out := make([]byte, dirEntrySize)
	out[0] = byte(e.Inode)
	out[1] = byte(e.Inode >> 8)
	out[2] = byte(e.Inode >> 16)
	out[3] = byte(e.Inode >> 24)
	out[4] = byte(e.Type)
	out[5] = byte(e.Size)
	out[6] = byte(e.Size >> 8)
	out[7] = byte(e.Size >> 16)
	out[8] = byte(e.Size >> 24)
	copy(out[9:9+28], e.Name)
	return out
}

// handleListdir writes up to the user-supplied capacity of packed
// DirEntry records and returns how many entries were written.
func handleListdir(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	entries, err := k.FS.List(path)
	if err != nil {
		return ErrVal, false
	}

	limit := int(args.A2)
	if limit < len(entries) {
		entries = entries[:limit]
	}
	buf := make([]byte, 0, len(entries)*dirEntrySize)
	for _, e := range entries {
		buf = append(buf, encodeDirEntry(e)...)
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), buf); err != nil {
		return ErrVal, false
	}
	return uint32(len(entries)), false
}

func handleMkdir(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	if _, err := k.FS.CreateDir(path); err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleTouch(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	if _, err := k.FS.CreateFile(path); err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleRm(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	if err := k.FS.Delete(path); err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleRename(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	newName, err := readUserString(k, p, pagedir.VAddr(args.A1), fs.NameLen-1)
	if err != nil {
		return ErrVal, false
	}
	if err := k.FS.Rename(path, newName); err != nil {
		return ErrVal, false
	}
	return 0, false
}

// handleWritefile implements the whole-file rewrite the block
// filesystem actually supports (fs.Write only accepts offset 0).
func handleWritefile(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	data, err := readUserBuf(k, p, pagedir.VAddr(args.A1), args.A2)
	if err != nil {
		return ErrVal, false
	}
	n, err := k.FS.Write(path, data, 0)
	if err != nil {
		return ErrVal, false
	}
	return uint32(n), false
}

func handleFreeBlocks(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	return k.FS.Info().FreeBlocks, false
}

func handleGetcwd(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	buf := append([]byte(p.CWD), 0)
	if uint32(len(buf)) > args.A1 {
		return ErrVal, false
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), buf); err != nil {
		return ErrVal, false
	}
	return uint32(len(p.CWD)), false
}

func handleSetcwd(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	entry, err := k.FS.Stat(path)
	if err != nil {
		return ErrVal, false
	}
	if entry.Type != fs.TypeDir {
		return ErrVal, false
	}
	p.CWD = path
	return 0, false
}
