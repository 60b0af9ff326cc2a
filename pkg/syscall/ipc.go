// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"github.com/rohos/kernel/pkg/ipc/pipe"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func init() {
	Register(PIPE, handlePipe)
	Register(DUP2, handleDup2)
}

func encodeU32Pair(a, b uint32) []byte {
	return []byte{
		byte(a), byte(a >> 8), byte(a >> 16), byte(a >> 24),
		byte(b), byte(b >> 8), byte(b >> 16), byte(b >> 24),
	}
}

// handlePipe implements PIPE(fdsPtr, capacity): fdsPtr receives two
// packed u32s, [readfd, writefd]. capacity of 0 selects
// pipe.DefaultCapacity.
func handlePipe(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	capacity := int(args.A1)
	if capacity == 0 {
		capacity = pipe.DefaultCapacity
	}
	pp, err := pipe.New(capacity)
	if err != nil {
		return ErrVal, false
	}
	pp.AddReader()
	pp.AddWriter()

	rfd := p.AllocFD()
	if rfd < 0 {
		return ErrVal, false
	}
	p.FDs[rfd] = process.FD{Kind: process.FDPipeRead, Pipe: pp}

	wfd := p.AllocFD()
	if wfd < 0 {
		p.FDs[rfd] = process.FD{}
		pp.DropReader()
		return ErrVal, false
	}
	p.FDs[wfd] = process.FD{Kind: process.FDPipeWrite, Pipe: pp}

	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), encodeU32Pair(uint32(rfd), uint32(wfd))); err != nil {
		p.FDs[rfd] = process.FD{}
		p.FDs[wfd] = process.FD{}
		pp.DropReader()
		pp.DropWriter()
		return ErrVal, false
	}
	return 0, false
}

func handleDup2(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if err := k.Proc.Dup2(p, int(args.A0), int(args.A1)); err != nil {
		return ErrVal, false
	}
	return args.A1, false
}
