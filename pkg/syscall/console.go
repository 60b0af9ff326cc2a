// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import "github.com/rohos/kernel/pkg/process"

func init() {
	Register(CLEAR, handleClear)
	Register(SETCOLOR, handleSetColor)
	Register(GETCHAR, handleGetChar)
	Register(KEYBOARD_HAS_INPUT, handleHasInput)
	Register(KEY_REPEAT, handleKeyRepeat)
}

func handleClear(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	k.Console.Clear()
	return 0, false
}

func handleSetColor(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if err := k.Console.SetColor(uint8(args.A0), uint8(args.A1)); err != nil {
		return ErrVal, false
	}
	return 0, false
}

// handleGetChar blocks when the keyboard buffer is empty, per spec's
// blocking-syscall list.
func handleGetChar(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	c, ok := k.Console.GetChar()
	if !ok {
		k.Proc.BlockOnConsole(p)
		return 0, true
	}
	return uint32(c), false
}

func handleHasInput(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	if k.Console.HasInput() {
		return 1, false
	}
	return 0, false
}

func handleKeyRepeat(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	k.Console.SetKeyRepeat(args.A0 != 0)
	return 0, false
}
