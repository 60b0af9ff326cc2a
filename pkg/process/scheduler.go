// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package process

import (
	"sync"

	"github.com/go-logr/logr"

	"github.com/rohos/kernel/pkg/elf"
	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/ipc/pipe"
	"github.com/rohos/kernel/pkg/kstack"
	"github.com/rohos/kernel/pkg/pagedir"
)

// UserStackSize is the number of bytes of stack mapped below
// USER_STACK_TOP, behind one unmapped guard page.
const UserStackSize = 16 * pagedir.PageSize

// UserStackTop is where exec maps the top of the new process's user
// stack; the heap is bounded above by UserStackTop - UserStackSize.
const UserStackTop = pagedir.UserEnd - pagedir.PageSize

// Config tunes a Scheduler's fixed resources.
type Config struct {
	Priorities int // number of ready queues, 0 highest
	Quantum    int // default time_slice in ticks
}

// Scheduler owns the process table, the per-priority ready queues, and
// the scheduling policy: pick_next, tick/preemption, fork/exec/wait/
// exit/kill, brk, and blocking/wake-up (spec §4.4).
type Scheduler struct {
	mu sync.Mutex

	logger  logr.Logger
	pd      *pagedir.Service
	ks      *kstack.Allocator
	frames  *frame.Allocator
	loadELF func(path string) ([]byte, error)

	cfg Config

	ready   [][]PID // ready[priority] is a FIFO of pids
	all     map[PID]*Process
	current *Process
	nextPID PID
	now     uint64
}

// New creates a Scheduler. loadELF resolves an exec path to its raw
// ELF bytes (wired to pkg/fs by the kernel assembly layer); it may be
// nil if the embedding program never calls Exec.
func New(logger logr.Logger, pd *pagedir.Service, ks *kstack.Allocator, frames *frame.Allocator, cfg Config, loadELF func(string) ([]byte, error)) (*Scheduler, error) {
	if cfg.Priorities <= 0 {
		return nil, errors.Validation("priorities must be positive, got %d", cfg.Priorities)
	}
	if cfg.Quantum <= 0 {
		return nil, errors.Validation("quantum must be positive, got %d", cfg.Quantum)
	}
	return &Scheduler{
		logger:  logger.WithName("process"),
		pd:      pd,
		ks:      ks,
		frames:  frames,
		loadELF: loadELF,
		cfg:     cfg,
		ready:   make([][]PID, cfg.Priorities),
		all:     make(map[PID]*Process),
		nextPID: 1,
	}, nil
}

// Now returns the scheduler's tick counter.
func (s *Scheduler) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Lookup returns the process table entry for pid, or nil.
func (s *Scheduler) Lookup(pid PID) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.all[pid]
}

// Current returns the currently RUNNING process, or nil if none.
func (s *Scheduler) Current() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Count returns the number of live (non-freed) process table entries.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.all)
}

// List returns a snapshot of every process table entry, for PROCESS_LIST.
func (s *Scheduler) List() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, 0, len(s.all))
	for _, p := range s.all {
		out = append(out, p)
	}
	return out
}

func (s *Scheduler) enqueue(p *Process) {
	p.State = StateReady
	s.ready[p.Priority] = append(s.ready[p.Priority], p.PID)
}

func (s *Scheduler) removeFromReady(pid PID, priority int) {
	q := s.ready[priority]
	for i, v := range q {
		if v == pid {
			s.ready[priority] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// PickNext returns the pid at the head of the lowest-numbered
// non-empty ready queue, or 0 if every queue is empty.
func (s *Scheduler) PickNext() PID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pickNextLocked()
}

func (s *Scheduler) pickNextLocked() PID {
	for _, q := range s.ready {
		if len(q) > 0 {
			return q[0]
		}
	}
	return 0
}

// Switch installs next as RUNNING: if cur is still RUNNING it moves to
// the tail of its priority queue first; next is popped off the head of
// its queue. The caller (the kernel's IRQ-return path) is responsible
// for actually installing next's Dir/Stack into the TSS; once that is
// done the CPU is safely off the outgoing process's kernel stack, so
// Switch also drains any kernel stacks that a prior Exit/Kill deferred
// freeing (spec §4.3, §9).
func (s *Scheduler) Switch(next PID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.State == StateRunning {
		s.current.Reschedule = false
		s.enqueue(s.current)
	}

	np, ok := s.all[next]
	if !ok {
		return errors.State("switch: no such process %d", next)
	}
	q := s.ready[np.Priority]
	if len(q) == 0 || q[0] != next {
		return errors.State("switch: pid %d is not at the head of its ready queue", next)
	}
	s.ready[np.Priority] = q[1:]
	np.State = StateRunning
	np.TimeSlice = s.cfg.Quantum
	s.current = np

	return s.ks.DrainDeferred()
}

// Tick advances the scheduler clock by one tick: it decrements the
// current process's time slice (flagging Reschedule at zero) and wakes
// any BLOCKED sleeper whose SleepUntil has arrived.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now++

	if s.current != nil && s.current.State == StateRunning {
		s.current.TimeSlice--
		s.current.TotalTime++
		if s.current.TimeSlice <= 0 {
			s.current.Reschedule = true
		}
	}

	for _, p := range s.all {
		if p.State == StateBlocked && p.BlockReason == BlockSleep && p.SleepUntil <= s.now {
			p.BlockReason = BlockNone
			p.Trap.EAX = 0
			s.enqueue(p)
		}
	}
}

// ShouldPreempt reports whether the IRQ-return path should run the
// scheduler: a strictly-higher-priority process is ready, or the
// current process asked to yield / exhausted its slice.
func (s *Scheduler) ShouldPreempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return s.pickNextLocked() != 0
	}
	if s.current.Reschedule {
		return true
	}
	for prio := 0; prio < s.current.Priority; prio++ {
		if len(s.ready[prio]) > 0 {
			return true
		}
	}
	return false
}

// --- process lifecycle -----------------------------------------------

// Spawn creates and enqueues a brand-new process with no parent, for
// kernel bring-up (the init process) rather than fork/exec.
func (s *Scheduler) Spawn(name string, priority int) (*Process, error) {
	if priority < 0 || priority >= s.cfg.Priorities {
		return nil, errors.Validation("priority %d out of range [0,%d)", priority, s.cfg.Priorities)
	}

	dir, err := s.pd.Create()
	if err != nil {
		return nil, err
	}
	stack, err := s.ks.Alloc(dir)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	pid := s.nextPID
	s.nextPID++
	p := &Process{
		PID:      pid,
		Name:     name,
		Priority: priority,
		State:    StateReady,
		CWD:      "/",
		Dir:      dir,
		Stack:    stack,
	}
	p.FDs[0] = FD{Kind: FDConsole}
	p.FDs[1] = FD{Kind: FDConsole}
	p.FDs[2] = FD{Kind: FDConsole}
	s.all[pid] = p
	s.enqueue(p)
	s.mu.Unlock()

	return p, nil
}

// Fork creates a child of parent: clones the fd table (bumping pipe
// refcounts), clone-COWs the user address space, copies the trap
// frame with eax=0, and enqueues the child. The parent's own syscall
// return value (the child pid) is the caller's responsibility to
// write into parent.Trap.EAX.
func (s *Scheduler) Fork(parent *Process) (*Process, error) {
	dir, err := s.pd.Create()
	if err != nil {
		return nil, err
	}
	if _, err := s.pd.CloneCOW(parent.Dir, dir); err != nil {
		return nil, err
	}
	stack, err := s.ks.Alloc(dir)
	if err != nil {
		_ = s.pd.Destroy(dir)
		return nil, err
	}

	s.mu.Lock()
	pid := s.nextPID
	s.nextPID++
	child := &Process{
		PID:      pid,
		PPID:     parent.PID,
		Name:     parent.Name,
		Args:     append([]string(nil), parent.Args...),
		Priority: parent.Priority,
		State:    StateReady,
		CWD:      parent.CWD,
		Dir:      dir,
		Stack:    stack,
		HeapBase: parent.HeapBase,
		HeapEnd:  parent.HeapEnd,
		Trap:     parent.Trap,
	}
	child.Trap.EAX = 0
	child.FDs = parent.FDs
	for i := range child.FDs {
		if child.FDs[i].Kind == FDPipeRead {
			child.FDs[i].Pipe.AddReader()
		} else if child.FDs[i].Kind == FDPipeWrite {
			child.FDs[i].Pipe.AddWriter()
		}
	}

	s.all[pid] = child
	s.enqueue(child)
	s.mu.Unlock()

	return child, nil
}

// Exec replaces p's address space with a freshly loaded ELF image:
// builds a new page directory, maps PT_LOAD segments, maps the user
// stack below USER_STACK_TOP with a guard page, sets the heap bounds,
// destroys the old directory, resets FILE fd offsets (pipes and
// console fds survive untouched), and overwrites the trap frame to
// enter at the image's entry point. On any failure p is left
// untouched.
func (s *Scheduler) Exec(p *Process, path string, args []string) error {
	if s.loadELF == nil {
		return errors.State("exec: no ELF loader configured")
	}
	raw, err := s.loadELF(path)
	if err != nil {
		return err
	}
	img, err := elf.Parse(raw)
	if err != nil {
		return err
	}

	newDir, err := s.pd.Create()
	if err != nil {
		return err
	}

	for _, seg := range img.Segments {
		flags := pagedir.FlagUser
		if seg.Writable {
			flags |= pagedir.FlagWritable
		}
		base := pagedir.PageAlign(pagedir.VAddr(seg.VAddr))
		top := pagedir.VAddr(seg.VAddr) + pagedir.VAddr(seg.MemSize)
		for v := base; v < top; v += pagedir.PageSize {
			if _, err := s.pd.MapAlloc(newDir, v, flags); err != nil {
				_ = s.pd.Destroy(newDir)
				return err
			}
		}
		if len(seg.Data) > 0 {
			if err := s.pd.CopyToUser(newDir, pagedir.VAddr(seg.VAddr), seg.Data, uint32(len(seg.Data))); err != nil {
				_ = s.pd.Destroy(newDir)
				return err
			}
		}
	}

	guard := pagedir.PageAlign(UserStackTop) - UserStackSize - pagedir.PageSize
	stackBase := guard + pagedir.PageSize
	for v := stackBase; v < UserStackTop; v += pagedir.PageSize {
		if _, err := s.pd.MapAlloc(newDir, v, pagedir.FlagUser|pagedir.FlagWritable); err != nil {
			_ = s.pd.Destroy(newDir)
			return err
		}
	}

	oldDir := p.Dir
	p.Dir = newDir
	p.HeapBase = pagedir.PageAlign(pagedir.VAddr(img.MaxVAddr) + pagedir.PageSize - 1)
	p.HeapEnd = p.HeapBase
	p.Name = path
	p.Args = args

	for i := range p.FDs {
		if p.FDs[i].Kind == FDFile {
			p.FDs[i].Offset = 0
		}
	}

	p.Trap = TrapFrame{
		EIP: img.Entry,
		ESP: uint32(UserStackTop),
		CS:  0x1B, // ring-3 code selector
		SS:  0x23, // ring-3 data/stack selector
		DS:  0x23,
		ES:  0x23,
		FS:  0x23,
		GS:  0x23,
	}

	return s.pd.Destroy(oldDir)
}

// Wait implements wait(pid, *status): if a matching ZOMBIE already
// exists it is harvested (status and its pid returned, record freed).
// If only a live matching child exists, the caller blocks
// (blocked=true). If no such child exists at all, it returns pid 0
// immediately with blocked=false and a nil error; the WAIT handler
// turns that into ErrVal (-1).
func (s *Scheduler) Wait(parent *Process, waitPID PID, statusPtr pagedir.VAddr) (pid PID, status int, blocked bool, err error) {
	s.mu.Lock()

	var liveChild bool
	for _, c := range s.all {
		if c.PPID != parent.PID {
			continue
		}
		if waitPID != AnyChild && c.PID != waitPID {
			continue
		}
		if c.State == StateZombie {
			delete(s.all, c.PID)
			s.mu.Unlock()
			return c.PID, c.ExitCode, false, nil
		}
		liveChild = true
	}

	if !liveChild {
		s.mu.Unlock()
		return 0, 0, false, nil
	}

	parent.State = StateBlocked
	parent.BlockReason = BlockWait
	parent.WaitPID = waitPID
	parent.WaitStatusPtr = statusPtr
	s.mu.Unlock()
	return 0, 0, true, nil
}

// harvest wakes parent w for child c's death: records the exit status
// at w's saved status pointer (if one was given), writes c's pid into
// w's saved eax, removes c's zombie record, and re-readies w. Must be
// called with s.mu held.
func (s *Scheduler) harvest(w, c *Process) {
	if w.WaitStatusPtr != 0 {
		var buf [4]byte
		buf[0] = byte(c.ExitCode)
		buf[1] = byte(c.ExitCode >> 8)
		buf[2] = byte(c.ExitCode >> 16)
		buf[3] = byte(c.ExitCode >> 24)
		_ = s.pd.CopyToUser(w.Dir, w.WaitStatusPtr, buf[:], 4)
	}
	delete(s.all, c.PID)
	w.Trap.EAX = uint32(c.PID)
	w.BlockReason = BlockNone
	s.enqueue(w)
}

// Exit implements exit(code): stores the exit code, wakes any blocked
// waiters, drops all fd references (including pipe refcounts), frees
// the kernel stack (deferred if p is still the running process, since
// freeing the stack the CPU is executing on would crash the kernel;
// Switch drains the deferral once the CPU is off it), tears down the
// page directory, and transitions p to ZOMBIE. The caller must still
// Switch() away from p.
func (s *Scheduler) Exit(p *Process, code int) error {
	s.mu.Lock()
	p.ExitCode = code
	p.State = StateZombie
	running := p == s.current

	for i := range p.FDs {
		s.closeFDLocked(&p.FDs[i])
	}

	for _, w := range s.all {
		if w.PID == p.PPID && w.State == StateBlocked && w.BlockReason == BlockWait &&
			(w.WaitPID == AnyChild || w.WaitPID == p.PID) {
			s.harvest(w, p)
			break
		}
	}
	s.mu.Unlock()

	if err := s.ks.Free(p.Dir, p.Stack, running); err != nil {
		return err
	}
	return s.pd.Destroy(p.Dir)
}

// Kill implements kill(pid, sig). Targeting self is equivalent to
// exit(128+sig); the selfExit callback lets the caller run the normal
// exit path (which needs to context-switch away). Targeting another
// process force-zombifies it without running its own exit path.
func (s *Scheduler) Kill(caller *Process, target PID, sig int, selfExit func(code int) error) error {
	if target == caller.PID {
		return selfExit(128 + sig)
	}

	s.mu.Lock()
	victim, ok := s.all[target]
	if !ok {
		s.mu.Unlock()
		return errors.Validation("kill: no such process %d", target)
	}
	if victim.State == StateZombie {
		s.mu.Unlock()
		return nil
	}
	if victim.State == StateReady {
		s.removeFromReady(victim.PID, victim.Priority)
	}
	victim.ExitCode = 128 + sig
	victim.State = StateZombie
	running := victim == s.current

	for i := range victim.FDs {
		s.closeFDLocked(&victim.FDs[i])
	}
	for _, w := range s.all {
		if w.PID == victim.PPID && w.State == StateBlocked && w.BlockReason == BlockWait &&
			(w.WaitPID == AnyChild || w.WaitPID == victim.PID) {
			s.harvest(w, victim)
			break
		}
	}
	if s.current == victim {
		s.current = nil
	}
	s.mu.Unlock()

	if err := s.ks.Free(victim.Dir, victim.Stack, running); err != nil {
		return err
	}
	return s.pd.Destroy(victim.Dir)
}

// closeFDLocked drops fd's reference (if any) and, when that closed the
// last reader or writer of a pipe, wakes the processes blocked on the
// other end: the last writer going away wakes readers (who observe
// EOF), the last reader going away wakes writers (whose pipe.Write
// then fails with an IO-class "broken pipe" error). Must be called
// with s.mu held.
func (s *Scheduler) closeFDLocked(fd *FD) {
	switch fd.Kind {
	case FDPipeRead:
		if fd.Pipe.DropReader() == 0 {
			s.wakePipeWritersLocked(fd.Pipe)
		}
	case FDPipeWrite:
		if fd.Pipe.DropWriter() == 0 {
			s.wakePipeReadersLocked(fd.Pipe)
		}
	}
	*fd = FD{}
}

// Dup2 makes fd newfd an exact copy of fd oldfd, closing whatever
// newfd previously held first. Duplicating a pipe end bumps its
// refcount.
func (s *Scheduler) Dup2(p *Process, oldfd, newfd int) error {
	if oldfd < 0 || oldfd >= MaxFDs || newfd < 0 || newfd >= MaxFDs {
		return errors.Validation("dup2: fd out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.FDs[oldfd].Kind == FDNone {
		return errors.State("dup2: fd %d not open", oldfd)
	}
	if oldfd == newfd {
		return nil
	}
	if p.FDs[newfd].Kind != FDNone {
		s.closeFDLocked(&p.FDs[newfd])
	}
	p.FDs[newfd] = p.FDs[oldfd]
	switch p.FDs[newfd].Kind {
	case FDPipeRead:
		p.FDs[newfd].Pipe.AddReader()
	case FDPipeWrite:
		p.FDs[newfd].Pipe.AddWriter()
	}
	return nil
}

// CloseFD closes fd index i in p's table, dropping any pipe refcount
// it held.
func (s *Scheduler) CloseFD(p *Process, i int) error {
	if i < 0 || i >= MaxFDs {
		return errors.Validation("close: fd %d out of range", i)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.FDs[i].Kind == FDNone {
		return errors.State("close: fd %d not open", i)
	}
	s.closeFDLocked(&p.FDs[i])
	return nil
}

// Brk implements brk: grows or shrinks the heap to newEnd, mapping
// zero-filled pages one at a time when growing (unrolling on
// allocation failure) and unmapping pages past the new end when
// shrinking. The heap may never exceed the user stack's guard page.
func (s *Scheduler) Brk(p *Process, newEnd pagedir.VAddr) error {
	limit := pagedir.PageAlign(UserStackTop) - UserStackSize - pagedir.PageSize
	if newEnd > limit {
		return errors.Resource("brk: requested end %#x exceeds heap ceiling %#x", newEnd, limit)
	}
	if newEnd < p.HeapBase {
		return errors.Validation("brk: requested end %#x below heap base %#x", newEnd, p.HeapBase)
	}

	oldEnd := pagedir.PageAlign(p.HeapEnd)
	alignedNew := pagedir.PageAlign(newEnd)
	if newEnd%pagedir.PageSize != 0 {
		alignedNew += pagedir.PageSize
	}

	if alignedNew > oldEnd {
		var mapped []pagedir.VAddr
		for v := oldEnd; v < alignedNew; v += pagedir.PageSize {
			if _, err := s.pd.MapAlloc(p.Dir, v, pagedir.FlagUser|pagedir.FlagWritable); err != nil {
				for _, m := range mapped {
					_ = s.pd.Unmap(p.Dir, m, true)
				}
				return err
			}
			mapped = append(mapped, v)
		}
	} else if alignedNew < oldEnd {
		for v := alignedNew; v < oldEnd; v += pagedir.PageSize {
			if err := s.pd.Unmap(p.Dir, v, true); err != nil {
				return err
			}
		}
	}

	p.HeapEnd = newEnd
	return nil
}

// Sleep implements SLEEP_MS: blocks p until at least durTicks ticks
// have elapsed (0 ticks returns immediately without blocking).
func (s *Scheduler) Sleep(p *Process, durTicks uint64) (blocked bool) {
	if durTicks == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.State = StateBlocked
	p.BlockReason = BlockSleep
	p.SleepUntil = s.now + durTicks
	return true
}

// --- pipe-backed fds ---------------------------------------------------

// PipeWrite attempts to write data through fd (which must be
// FDPipeWrite). It returns how many bytes were accepted; if that is
// less than len(data) and err is nil, the caller should block the
// process and retry the remainder once woken by a reader.
func (s *Scheduler) PipeWrite(fd *FD, data []byte) (n int, err error) {
	n, err = fd.Pipe.Write(data)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.wakePipeReaders(fd.Pipe)
	}
	return n, nil
}

// PipeRead attempts to read into buf through fd (which must be
// FDPipeRead). n==0 with no error and the pipe not at EOF means the
// caller should block and retry once woken by a writer.
func (s *Scheduler) PipeRead(fd *FD, buf []byte) (n int, err error) {
	n, err = fd.Pipe.Read(buf)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.wakePipeWriters(fd.Pipe)
	}
	return n, nil
}

// BlockOnPipe parks p waiting on the given pipe fd.
func (s *Scheduler) BlockOnPipe(p *Process, reading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.State = StateBlocked
	if reading {
		p.BlockReason = BlockPipeRead
	} else {
		p.BlockReason = BlockPipeWrite
	}
}

func (s *Scheduler) wakePipeReaders(p *pipe.Pipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakePipeReadersLocked(p)
}

func (s *Scheduler) wakePipeWriters(p *pipe.Pipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakePipeWritersLocked(p)
}

func (s *Scheduler) wakePipeReadersLocked(p *pipe.Pipe) {
	for _, w := range s.all {
		if w.State == StateBlocked && w.BlockReason == BlockPipeRead && fdPipe(w, FDPipeRead) == p {
			w.BlockReason = BlockNone
			s.enqueue(w)
		}
	}
}

func (s *Scheduler) wakePipeWritersLocked(p *pipe.Pipe) {
	for _, w := range s.all {
		if w.State == StateBlocked && w.BlockReason == BlockPipeWrite && fdPipe(w, FDPipeWrite) == p {
			w.BlockReason = BlockNone
			s.enqueue(w)
		}
	}
}

// BlockOnConsole parks p waiting for keyboard input (GETCHAR with an
// empty buffer).
func (s *Scheduler) BlockOnConsole(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.State = StateBlocked
	p.BlockReason = BlockConsole
}

// WakeConsoleReaders re-readies every process blocked on console
// input. The console is a single shared device, so unlike pipes there
// is no per-object match to narrow the wake to.
func (s *Scheduler) WakeConsoleReaders() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.all {
		if w.State == StateBlocked && w.BlockReason == BlockConsole {
			w.BlockReason = BlockNone
			s.enqueue(w)
		}
	}
}

func fdPipe(p *Process, kind FDKind) *pipe.Pipe {
	for i := range p.FDs {
		if p.FDs[i].Kind == kind {
			return p.FDs[i].Pipe
		}
	}
	return nil
}
