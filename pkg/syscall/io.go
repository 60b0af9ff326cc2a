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
	Register(WRITE, handleWrite)
	Register(READ, handleRead)
	Register(OPEN, handleOpen)
	Register(CLOSE, handleClose)
	Register(SEEK, handleSeek)
	Register(STAT, handleStat)
	Register(CHMOD, handleChmod)
}

// Open flags, loosely POSIX-shaped: the low two bits select access
// mode, O_CREAT asks OPEN to create a missing file.
const (
	ORDONLY = 0
	OWRONLY = 1
	ORDWR   = 2
	OCREAT  = 0x100
)

func fdOf(p *process.Process, fd int) (*process.FD, bool) {
	if fd < 0 || fd >= process.MaxFDs || p.FDs[fd].Kind == process.FDNone {
		return nil, false
	}
	return &p.FDs[fd], true
}

func handleWrite(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	fd, ok := fdOf(p, int(args.A0))
	if !ok {
		return ErrVal, false
	}
	data, err := readUserBuf(k, p, pagedir.VAddr(args.A1), args.A2)
	if err != nil {
		return ErrVal, false
	}

	switch fd.Kind {
	case process.FDConsole:
		n, _ := k.Console.Write(data)
		return uint32(n), false
	case process.FDPipeWrite:
		// fd.Offset tracks how much of data this pending write has
		// already placed in the pipe across retries (pipes don't
		// otherwise use Offset), so a retry after blocking resumes
		// instead of re-writing bytes the reader already saw.
		remaining := data[fd.Offset:]
		n, err := k.Proc.PipeWrite(fd, remaining)
		if err != nil {
			fd.Offset = 0
			return ErrVal, false
		}
		fd.Offset += uint32(n)
		if fd.Offset < uint32(len(data)) {
			k.Proc.BlockOnPipe(p, false)
			return 0, true
		}
		total := fd.Offset
		fd.Offset = 0
		return total, false
	default:
		return ErrVal, false
	}
}

func handleRead(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	fd, ok := fdOf(p, int(args.A0))
	if !ok {
		return ErrVal, false
	}
	n := args.A2

	switch fd.Kind {
	case process.FDConsole:
		buf := make([]byte, 0, n)
		for uint32(len(buf)) < n {
			c, has := k.Console.GetChar()
			if !has {
				break
			}
			buf = append(buf, c)
		}
		if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), buf); err != nil {
			return ErrVal, false
		}
		return uint32(len(buf)), false
	case process.FDFile:
		buf := make([]byte, n)
		got, err := k.FS.Read(fd.Path, buf, fd.Offset)
		if err != nil {
			return ErrVal, false
		}
		fd.Offset += uint32(got)
		if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), buf[:got]); err != nil {
			return ErrVal, false
		}
		return uint32(got), false
	case process.FDPipeRead:
		buf := make([]byte, n)
		got, err := k.Proc.PipeRead(fd, buf)
		if err != nil {
			return ErrVal, false
		}
		if got == 0 && !pipeAtEOF(fd) {
			k.Proc.BlockOnPipe(p, true)
			return 0, true
		}
		if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), buf[:got]); err != nil {
			return ErrVal, false
		}
		return uint32(got), false
	default:
		return ErrVal, false
	}
}

func pipeAtEOF(fd *process.FD) bool {
	return fd.Pipe != nil && fd.Pipe.AtEOF()
}

func handleOpen(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	flags := args.A1

	if _, err := k.FS.Stat(path); err != nil {
		if flags&OCREAT == 0 {
			return ErrVal, false
		}
		if _, err := k.FS.CreateFile(path); err != nil {
			return ErrVal, false
		}
	}

	idx := p.AllocFD()
	if idx < 0 {
		return ErrVal, false
	}
	p.FDs[idx] = process.FD{Kind: process.FDFile, Path: path}
	return uint32(idx), false
}

func handleClose(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if err := k.Proc.CloseFD(p, int(args.A0)); err != nil {
		return ErrVal, false
	}
	return 0, false
}

func handleSeek(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	fd, ok := fdOf(p, int(args.A0))
	if !ok || fd.Kind != process.FDFile {
		return ErrVal, false
	}
	offset := int64(int32(args.A1))
	whence := args.A2

	var base int64
	switch whence {
	case 0: // SEEK_SET
		base = 0
	case 1: // SEEK_CUR
		base = int64(fd.Offset)
	case 2: // SEEK_END
		st, err := k.FS.Stat(fd.Path)
		if err != nil {
			return ErrVal, false
		}
		base = int64(st.Size)
	default:
		return ErrVal, false
	}

	newOff := base + offset
	if newOff < 0 {
		return ErrVal, false
	}
	fd.Offset = uint32(newOff)
	return fd.Offset, false
}

func handleStat(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	entry, err := k.FS.Stat(path)
	if err != nil {
		return ErrVal, false
	}
	perm, err := k.FS.Perm(path)
	if err != nil {
		return ErrVal, false
	}

	out := encodeStat(entry, perm)
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), out); err != nil {
		return ErrVal, false
	}
	return 0, false
}

// encodeStat packs a DirEntry the way STAT reports it to user space:
// size (u32 LE), type (u8), perm (u8).
func encodeStat(e fs.DirEntry, perm uint8) []byte {
	out := make([]byte, 6)
	out[0] = byte(e.Size)
	out[1] = byte(e.Size >> 8)
	out[2] = byte(e.Size >> 16)
	out[3] = byte(e.Size >> 24)
	out[4] = byte(e.Type)
	out[5] = perm
	return out
}

func handleChmod(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	path, err := resolvePath(k, p, pagedir.VAddr(args.A0))
	if err != nil {
		return ErrVal, false
	}
	if err := k.FS.Chmod(path, uint8(args.A1)); err != nil {
		return ErrVal, false
	}
	return 0, false
}
