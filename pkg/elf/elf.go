// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package elf loads a flat 32-bit ELF executable image's PT_LOAD
// segments into a freshly built address space for exec (spec §4.4).
//
// Parsing the container format itself is exactly what the standard
// library's debug/elf already does correctly for every section and
// program header a hobby-kernel loader cares about; none of the
// example repos ship a from-scratch ELF reader, so there is nothing in
// the retrieved stack to imitate here instead of debug/elf.
package elf

import (
	"bytes"
	"debug/elf"

	"github.com/rohos/kernel/pkg/errors"
)

// Image describes the loadable result of parsing an ELF32 executable.
type Image struct {
	Entry      uint32
	Segments   []Segment
	MaxVAddr   uint32 // one past the highest address byte touched by any segment (VAddr+MemSize), page-unaligned
}

// Segment is one PT_LOAD program header, ready to be mapped and
// copied into a user address space.
type Segment struct {
	VAddr    uint32
	Writable bool
	Data     []byte // file-backed bytes; length may be less than MemSize
	MemSize  uint32 // total bytes to reserve (.bss tail is zero-filled)
}

// Parse reads a 32-bit, little-endian, ET_EXEC ELF image for x86 and
// returns its loadable segments. Only PT_LOAD headers are honored;
// dynamic linking, relocations, and non-EM_386 machines are rejected
// since the kernel never produces or expects them.
func Parse(raw []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Validation("exec: not a valid ELF image: %v", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS32 {
		return nil, errors.Validation("exec: only ELFCLASS32 images are supported")
	}
	if f.Machine != elf.EM_386 {
		return nil, errors.Validation("exec: only EM_386 images are supported")
	}
	if f.Type != elf.ET_EXEC {
		return nil, errors.Validation("exec: only ET_EXEC images are supported, got %s", f.Type)
	}

	img := &Image{Entry: uint32(f.Entry)}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			r := prog.Open()
			if _, err := r.Read(data); err != nil {
				return nil, errors.IO("exec: reading PT_LOAD segment at %#x: %v", prog.Vaddr, err)
			}
		}
		seg := Segment{
			VAddr:    uint32(prog.Vaddr),
			Writable: prog.Flags&elf.PF_W != 0,
			Data:     data,
			MemSize:  uint32(prog.Memsz),
		}
		img.Segments = append(img.Segments, seg)

		top := seg.VAddr + seg.MemSize
		if top > img.MaxVAddr {
			img.MaxVAddr = top
		}
	}

	if len(img.Segments) == 0 {
		return nil, errors.Validation("exec: ELF image has no PT_LOAD segments")
	}

	return img, nil
}
