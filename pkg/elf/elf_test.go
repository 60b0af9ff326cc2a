// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

const (
	ehsize = 52
	phsize = 32
)

// buildELF32 assembles a minimal ELF32/EM_386 image with a single
// PT_LOAD segment, honoring the fields Parse inspects.
func buildELF32(t *testing.T, etype elf.Type, machine elf.Machine, class elf.Class, vaddr, entry uint32, code []byte, writable bool) []byte {
	t.Helper()

	var buf bytes.Buffer

	ident := make([]byte, 16)
	copy(ident, []byte{0x7f, 'E', 'L', 'F'})
	ident[4] = byte(class)
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)

	binary.Write(&buf, binary.LittleEndian, uint16(etype))
	binary.Write(&buf, binary.LittleEndian, uint16(machine))
	binary.Write(&buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(&buf, binary.LittleEndian, entry)
	binary.Write(&buf, binary.LittleEndian, uint32(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))      // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(&buf, binary.LittleEndian, uint16(phsize))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0)) // e_shstrndx

	flags := uint32(elf.PF_R | elf.PF_X)
	if writable {
		flags |= uint32(elf.PF_W)
	}
	dataOff := uint32(ehsize + phsize)
	binary.Write(&buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(&buf, binary.LittleEndian, dataOff)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, vaddr)
	binary.Write(&buf, binary.LittleEndian, uint32(len(code)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(code))+0x1000) // memsz > filesz: BSS tail
	binary.Write(&buf, binary.LittleEndian, flags)
	binary.Write(&buf, binary.LittleEndian, uint32(0x1000)) // p_align

	buf.Write(code)
	return buf.Bytes()
}

func TestParseLoadsPTLoadSegment(t *testing.T) {
	code := []byte{0x90, 0x90, 0xcc} // nop nop int3
	raw := buildELF32(t, elf.ET_EXEC, elf.EM_386, elf.ELFCLASS32, 0x0804_8000, 0x0804_8000, code, false)

	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.Entry != 0x0804_8000 {
		t.Errorf("Entry = %#x, want %#x", img.Entry, 0x0804_8000)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("Segments = %d, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.VAddr != 0x0804_8000 {
		t.Errorf("VAddr = %#x, want %#x", seg.VAddr, 0x0804_8000)
	}
	if seg.Writable {
		t.Error("segment should not be writable")
	}
	if !bytes.Equal(seg.Data, code) {
		t.Errorf("Data = %v, want %v", seg.Data, code)
	}
	if seg.MemSize != uint32(len(code))+0x1000 {
		t.Errorf("MemSize = %d, want %d (filesz + bss tail)", seg.MemSize, len(code)+0x1000)
	}
	wantMax := seg.VAddr + seg.MemSize
	if img.MaxVAddr != wantMax {
		t.Errorf("MaxVAddr = %#x, want %#x", img.MaxVAddr, wantMax)
	}
}

func TestParseRejectsWrongClass(t *testing.T) {
	raw := buildELF32(t, elf.ET_EXEC, elf.EM_386, elf.ELFCLASS64, 0x1000, 0x1000, []byte{0x90}, false)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for ELFCLASS64 image")
	}
}

func TestParseRejectsWrongMachine(t *testing.T) {
	raw := buildELF32(t, elf.ET_EXEC, elf.EM_X86_64, elf.ELFCLASS32, 0x1000, 0x1000, []byte{0x90}, false)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for non-EM_386 image")
	}
}

func TestParseRejectsNonExecutable(t *testing.T) {
	raw := buildELF32(t, elf.ET_DYN, elf.EM_386, elf.ELFCLASS32, 0x1000, 0x1000, []byte{0x90}, false)
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for ET_DYN image")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not an elf file at all")); err == nil {
		t.Fatal("expected error for non-ELF bytes")
	}
}

func TestParseWritableSegment(t *testing.T) {
	raw := buildELF32(t, elf.ET_EXEC, elf.EM_386, elf.ELFCLASS32, 0x0804_9000, 0x0804_9000, []byte{1, 2, 3, 4}, true)
	img, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !img.Segments[0].Writable {
		t.Error("segment should be writable")
	}
}
