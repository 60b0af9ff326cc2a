// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package pipe implements the byte buffer backing an IPC pipe (spec
// §5): a fixed-capacity circular buffer shared between a read end and
// a write end, plus the reader/writer refcounts that decide whether a
// short read or write means "come back later" or "the other end is
// gone".
//
// Unlike pkg/internal/ring (overwrite-oldest) or pkg/internal/queue
// (refuse when full), a pipe write that doesn't fit is a partial
// write: the caller gets back how much fit and is expected to retry
// the remainder once the reader drains some. Whether that retry blocks
// the calling process is a scheduling decision pkg/process makes, not
// this package's concern — Pipe only ever reports byte counts and
// end-of-data conditions.
package pipe

import (
	"sync"

	"github.com/rohos/kernel/pkg/errors"
)

// DefaultCapacity is the byte capacity of a pipe created without an
// explicit size (spec §5).
const DefaultCapacity = 4096

// Pipe is a bounded circular byte buffer with reader/writer refcounts.
type Pipe struct {
	mu   sync.Mutex
	buf  []byte
	head int
	size int

	readers int
	writers int
}

// New creates an empty pipe with the given byte capacity.
func New(capacity int) (*Pipe, error) {
	if capacity <= 0 {
		return nil, errors.Validation("pipe capacity must be positive, got %d", capacity)
	}
	return &Pipe{buf: make([]byte, capacity)}, nil
}

// AddReader registers one more reader of this pipe (e.g. on fork, when
// a child inherits the read end's fd).
func (p *Pipe) AddReader() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readers++
}

// AddWriter registers one more writer of this pipe.
func (p *Pipe) AddWriter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writers++
}

// DropReader removes one reader reference and returns the number
// remaining.
func (p *Pipe) DropReader() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers > 0 {
		p.readers--
	}
	return p.readers
}

// DropWriter removes one writer reference and returns the number
// remaining.
func (p *Pipe) DropWriter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writers > 0 {
		p.writers--
	}
	return p.writers
}

func (p *Pipe) Readers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers
}

func (p *Pipe) Writers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writers
}

// Len reports how many unread bytes are currently buffered.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Cap reports the pipe's fixed byte capacity.
func (p *Pipe) Cap() int {
	return len(p.buf)
}

// Write appends as much of data as currently fits and returns how many
// bytes it accepted. A short write (n < len(data)) with no error means
// the buffer is full and the caller should retry the remainder once
// space frees up; an IO-class "broken pipe" error means there is no
// reader left to ever drain it.
func (p *Pipe) Write(data []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readers == 0 {
		return 0, errors.IO("broken pipe: no readers")
	}

	free := len(p.buf) - p.size
	n = min(free, len(data))
	tail := (p.head + p.size) % len(p.buf)
	for i := 0; i < n; i++ {
		p.buf[(tail+i)%len(p.buf)] = data[i]
	}
	p.size += n
	return n, nil
}

// Read copies up to len(out) unread bytes into out and returns how
// many it copied. n == 0 with err == nil and writers > 0 means the
// pipe is empty and the caller should block; n == 0 with writers == 0
// means end-of-data.
func (p *Pipe) Read(out []byte) (n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n = min(p.size, len(out))
	for i := 0; i < n; i++ {
		out[i] = p.buf[(p.head+i)%len(p.buf)]
	}
	p.head = (p.head + n) % len(p.buf)
	p.size -= n
	return n, nil
}

// AtEOF reports whether the pipe is drained and has no writer left to
// ever produce more data.
func (p *Pipe) AtEOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size == 0 && p.writers == 0
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
