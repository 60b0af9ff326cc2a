// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package pagedir is the page-directory service: it builds, clones
// (copy-on-write), maps/unmaps, and tears down per-process address
// spaces, and performs the safe user<->kernel memory copies every
// syscall handler relies on (spec §4.2).
//
// There is no real MMU underneath this simulation, so each Directory
// also owns the byte content of every frame it maps; Service multiplexes
// that content by frame.Addr so a frame shared COW between two
// directories really does show the same bytes to both until one of
// them takes the copy-on-write fault.
package pagedir

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/frame"
)

// VAddr is a 32-bit user or kernel virtual address.
type VAddr uint32

const (
	PageSize = frame.PageSize

	// UserStart and UserEnd bound the low half of every address space
	// (spec §3). KernelBase begins the shared high half installed
	// identically in every directory.
	UserStart  VAddr = 0x0800_0000
	UserEnd    VAddr = 0xC000_0000
	KernelBase VAddr = UserEnd
)

// PageAlign truncates addr down to its containing page boundary.
func PageAlign(addr VAddr) VAddr { return addr &^ (PageSize - 1) }

// Flags mirror the hardware PTE bits the spec cares about: present,
// user/supervisor, writable, and the reserved COW bit.
type Flags uint8

const (
	FlagPresent Flags = 1 << iota
	FlagWritable
	FlagUser
	FlagCOW
)

func (f Flags) Present() bool  { return f&FlagPresent != 0 }
func (f Flags) Writable() bool { return f&FlagWritable != 0 }
func (f Flags) User() bool     { return f&FlagUser != 0 }
func (f Flags) COW() bool      { return f&FlagCOW != 0 }

type entry struct {
	frame frame.Addr
	flags Flags
}

// Directory is a per-process top-level translation structure. The zero
// value is not usable; construct one with Service.Create.
type Directory struct {
	mu   sync.Mutex
	id   uint32 // stands in for the physical CR3 value
	user map[VAddr]entry
}

// ID returns a stable handle for the directory (the simulated CR3
// value loaded when this process runs).
func (d *Directory) ID() uint32 { return d.id }

// Service owns the frame allocator, the shared kernel-half template,
// and the simulated physical memory backing every mapped frame.
type Service struct {
	mu      sync.Mutex
	logger  logr.Logger
	frames  *frame.Allocator
	nextID  uint32
	kernel  map[VAddr]entry // shared, identical in every directory
	physMem map[frame.Addr]*[PageSize]byte
}

// NewService creates a page-directory service backed by frames.
func NewService(logger logr.Logger, frames *frame.Allocator) *Service {
	return &Service{
		logger:  logger.WithName("pagedir"),
		frames:  frames,
		kernel:  make(map[VAddr]entry),
		physMem: make(map[frame.Addr]*[PageSize]byte),
	}
}

// MapKernel installs a mapping into the shared kernel template that
// every directory — existing and future — observes identically. Used
// once during kernel bring-up to build the direct/identity map.
func (s *Service) MapKernel(vaddr VAddr, phys frame.Addr, flags Flags) error {
	if vaddr < KernelBase {
		return errors.Validation("kernel mapping %#x below kernel base", vaddr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel[PageAlign(vaddr)] = entry{frame: phys, flags: flags &^ FlagUser}
	return nil
}

// Create builds a new directory with an empty user half and the
// current shared kernel template.
func (s *Service) Create() (*Directory, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.mu.Unlock()

	return &Directory{id: id, user: make(map[VAddr]entry)}, nil
}

// Destroy walks the user half, drops a reference on every present
// frame, and discards the directory. Per spec §3, a ZOMBIE process's
// page_directory is nil after this call — callers are expected to
// drop their pointer to d once Destroy returns.
func (s *Service) Destroy(d *Directory) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for vaddr, e := range d.user {
		if !e.flags.Present() {
			continue
		}
		if _, err := s.frames.RefDec(e.frame); err != nil {
			return err
		}
		s.maybeEvictMem(e.frame)
		delete(d.user, vaddr)
	}
	return nil
}

func (s *Service) maybeEvictMem(f frame.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frames.RefCount(f) == 0 {
		delete(s.physMem, f)
	}
}

func (s *Service) pageOf(f frame.Addr) *[PageSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.physMem[f]
	if !ok {
		p = &[PageSize]byte{}
		s.physMem[f] = p
	}
	return p
}

// Map installs a present PTE for vaddr pointing at phys with flags.
// The caller owns the reference count bump on phys; Map does not touch
// it (mirrors map_alloc, which does).
func (s *Service) Map(d *Directory, vaddr VAddr, phys frame.Addr, flags Flags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.user[PageAlign(vaddr)] = entry{frame: phys, flags: flags | FlagPresent}
	return nil
}

// MapAlloc allocates a fresh zero-filled frame, maps it at vaddr with
// flags, and bumps its refcount.
func (s *Service) MapAlloc(d *Directory, vaddr VAddr, flags Flags) (frame.Addr, error) {
	phys, err := s.frames.Alloc()
	if err != nil {
		return 0, err
	}
	s.pageOf(phys) // force zero-filled allocation
	if err := s.Map(d, vaddr, phys, flags); err != nil {
		_ = s.frames.Free(phys)
		return 0, err
	}
	return phys, nil
}

// Unmap clears the PTE at vaddr. If freeFrame and this was the last
// reference, the frame is released back to the pool.
func (s *Service) Unmap(d *Directory, vaddr VAddr, freeFrame bool) error {
	d.mu.Lock()
	page := PageAlign(vaddr)
	e, ok := d.user[page]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	delete(d.user, page)
	d.mu.Unlock()

	if !freeFrame {
		return nil
	}
	after, err := s.frames.RefDec(e.frame)
	if err != nil {
		return err
	}
	if after == 0 {
		s.maybeEvictMem(e.frame)
	}
	return nil
}

// CloneCOW clones parent's user half into child, rewriting every
// writable+user entry in both directories to read-only+COW and bumping
// the frame's refcount, or copying non-writable entries verbatim while
// still bumping the refcount (spec §4.2). Entries that are not both
// present and user (such as a kernel stack page) are not copied.
// modified reports whether any entry was converted to COW.
func (s *Service) CloneCOW(parent, child *Directory) (modified bool, err error) {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	child.mu.Lock()
	defer child.mu.Unlock()

	for vaddr, e := range parent.user {
		if !e.flags.Present() || !e.flags.User() {
			continue
		}

		if e.flags.Writable() {
			cow := (e.flags &^ FlagWritable) | FlagCOW
			parent.user[vaddr] = entry{frame: e.frame, flags: cow}
			child.user[vaddr] = entry{frame: e.frame, flags: cow}
			if _, err := s.frames.RefInc(e.frame); err != nil {
				return modified, err
			}
			modified = true
		} else {
			child.user[vaddr] = e
			if _, err := s.frames.RefInc(e.frame); err != nil {
				return modified, err
			}
		}
	}
	return modified, nil
}

// HandleCOWFault handles a write fault against a COW page at vaddr in
// d. Per spec §4.2: if the frame's refcount shows no other sharer, the
// lone remaining mapping (this one) is promoted in place to writable
// with no copy and no refcount change; otherwise a new frame is
// allocated, the old frame's contents are copied into it, the old
// frame's refcount is decremented, and the new frame is mapped
// writable+user in d — checking before decrementing (rather than
// branching on the post-decrement count) is what keeps the other
// directory's still-COW entry pointing at a frame whose refcount
// correctly reflects it as the sole remaining owner.
func (s *Service) HandleCOWFault(d *Directory, vaddr VAddr) error {
	page := PageAlign(vaddr)

	d.mu.Lock()
	e, ok := d.user[page]
	d.mu.Unlock()
	if !ok || !e.flags.Present() {
		return errors.State("cow fault at %#x: no present mapping", vaddr)
	}
	if !e.flags.COW() {
		return errors.State("cow fault at %#x: mapping is not COW", vaddr)
	}

	if s.frames.RefCount(e.frame) == 1 {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.user[page] = entry{frame: e.frame, flags: (e.flags &^ FlagCOW) | FlagWritable}
		return nil
	}

	newFrame, err := s.frames.Alloc()
	if err != nil {
		return err
	}
	*s.pageOf(newFrame) = *s.pageOf(e.frame)
	if _, err := s.frames.RefDec(e.frame); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.user[page] = entry{frame: newFrame, flags: (e.flags &^ FlagCOW) | FlagWritable}
	return nil
}

// UserRangeMapped reports whether every page touched by [addr, addr+len)
// is present and user-accessible in d, per the low-guard contract in
// spec §4.2: the range must lie within [UserStart, UserEnd), addr+len
// must not overflow, and every touched page must be mapped.
func (s *Service) UserRangeMapped(d *Directory, addr VAddr, length uint32) bool {
	if length == 0 {
		return addr >= UserStart && addr < UserEnd
	}
	end := uint64(addr) + uint64(length)
	if addr < UserStart || end > uint64(UserEnd) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for p := PageAlign(addr); uint64(p) < end; p += PageSize {
		e, ok := d.user[p]
		if !ok || !e.flags.Present() || !e.flags.User() {
			return false
		}
	}
	return true
}

// CopyFromUser copies n bytes from uaddr in d into kdst. It validates
// the whole range before touching any byte.
func (s *Service) CopyFromUser(d *Directory, kdst []byte, uaddr VAddr, n uint32) error {
	if !s.UserRangeMapped(d, uaddr, n) {
		return errors.Validation("copy_from_user: [%#x,%#x) not fully user-mapped", uaddr, uint64(uaddr)+uint64(n))
	}
	return s.walkUser(d, uaddr, n, func(off uint32, page *[PageSize]byte, pageOff uint32, chunk uint32) error {
		copy(kdst[off:off+chunk], page[pageOff:pageOff+chunk])
		return nil
	})
}

// CopyToUser copies n bytes from ksrc into uaddr in d, invoking the COW
// fault handler for any page still marked COW before writing it.
func (s *Service) CopyToUser(d *Directory, uaddr VAddr, ksrc []byte, n uint32) error {
	if !s.UserRangeMapped(d, uaddr, n) {
		return errors.Validation("copy_to_user: [%#x,%#x) not fully user-mapped", uaddr, uint64(uaddr)+uint64(n))
	}
	return s.walkUserWritable(d, uaddr, n, func(off uint32, page *[PageSize]byte, pageOff uint32, chunk uint32) error {
		copy(page[pageOff:pageOff+chunk], ksrc[off:off+chunk])
		return nil
	})
}

// MemsetUser fills n bytes at uaddr in d with b, faulting in COW pages
// as needed.
func (s *Service) MemsetUser(d *Directory, uaddr VAddr, b byte, n uint32) error {
	if !s.UserRangeMapped(d, uaddr, n) {
		return errors.Validation("memset_user: [%#x,%#x) not fully user-mapped", uaddr, uint64(uaddr)+uint64(n))
	}
	return s.walkUserWritable(d, uaddr, n, func(off uint32, page *[PageSize]byte, pageOff uint32, chunk uint32) error {
		for i := uint32(0); i < chunk; i++ {
			page[pageOff+i] = b
		}
		return nil
	})
}

type pageFn func(off uint32, page *[PageSize]byte, pageOff uint32, chunk uint32) error

func (s *Service) walkUser(d *Directory, uaddr VAddr, n uint32, fn pageFn) error {
	var off uint32
	for off < n {
		cur := uaddr + VAddr(off)
		page := PageAlign(cur)
		pageOff := uint32(cur - page)
		chunk := min(PageSize-pageOff, n-off)

		d.mu.Lock()
		e, ok := d.user[page]
		d.mu.Unlock()
		if !ok || !e.flags.Present() {
			return errors.Validation("user page %#x not present", page)
		}

		if err := fn(off, s.pageOf(e.frame), pageOff, chunk); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

func (s *Service) walkUserWritable(d *Directory, uaddr VAddr, n uint32, fn pageFn) error {
	var off uint32
	for off < n {
		cur := uaddr + VAddr(off)
		page := PageAlign(cur)
		pageOff := uint32(cur - page)
		chunk := min(PageSize-pageOff, n-off)

		d.mu.Lock()
		e, ok := d.user[page]
		d.mu.Unlock()
		if !ok || !e.flags.Present() {
			return errors.Validation("user page %#x not present", page)
		}
		if e.flags.COW() {
			if err := s.HandleCOWFault(d, cur); err != nil {
				return err
			}
			d.mu.Lock()
			e = d.user[page]
			d.mu.Unlock()
		}

		if err := fn(off, s.pageOf(e.frame), pageOff, chunk); err != nil {
			return err
		}
		off += chunk
	}
	return nil
}

func min(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
