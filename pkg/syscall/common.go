// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

// boolResult maps ok to the syscall's two-value convention: 0 on
// success, ErrVal on failure.
func boolResult(err error) uint32 {
	if err != nil {
		return ErrVal
	}
	return 0
}

// readUserString copies a NUL-terminated string of at most maxLen
// bytes out of p's address space starting at addr. It fails closed:
// any unmapped byte in the scanned range is a validation error, never
// a partial result.
func readUserString(k *Kernel, p *process.Process, addr pagedir.VAddr, maxLen int) (string, error) {
	if addr == 0 {
		return "", errors.Validation("syscall: null string pointer")
	}
	buf := make([]byte, maxLen+1)
	if !k.PageDir.UserRangeMapped(p.Dir, addr, uint32(len(buf))) {
		// Fall back to scanning byte by byte in case the string ends
		// before the full probe window would be mapped.
		var out []byte
		var b [1]byte
		for i := 0; i < maxLen; i++ {
			if !k.PageDir.UserRangeMapped(p.Dir, addr+pagedir.VAddr(i), 1) {
				return "", errors.Validation("syscall: unmapped byte at %#x", addr+pagedir.VAddr(i))
			}
			if err := k.PageDir.CopyFromUser(p.Dir, b[:], addr+pagedir.VAddr(i), 1); err != nil {
				return "", errors.Validation("syscall: copy failed at %#x", addr+pagedir.VAddr(i))
			}
			if b[0] == 0 {
				return string(out), nil
			}
			out = append(out, b[0])
		}
		return "", errors.Validation("syscall: string exceeds %d bytes", maxLen)
	}
	if err := k.PageDir.CopyFromUser(p.Dir, buf, addr, uint32(len(buf))); err != nil {
		return "", errors.Validation("syscall: copy failed at %#x", addr)
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", errors.Validation("syscall: string exceeds %d bytes", maxLen)
}

// readUserBuf validates and copies n bytes from the user address addr.
func readUserBuf(k *Kernel, p *process.Process, addr pagedir.VAddr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if !k.PageDir.UserRangeMapped(p.Dir, addr, n) {
		return nil, errors.Validation("syscall: buffer %#x..%#x not fully mapped", addr, uint32(addr)+n)
	}
	buf := make([]byte, n)
	if err := k.PageDir.CopyFromUser(p.Dir, buf, addr, n); err != nil {
		return nil, errors.Validation("syscall: copy from %#x failed", addr)
	}
	return buf, nil
}

// writeUserBuf validates and copies data to the user address addr.
func writeUserBuf(k *Kernel, p *process.Process, addr pagedir.VAddr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !k.PageDir.UserRangeMapped(p.Dir, addr, uint32(len(data))) {
		return errors.Validation("syscall: buffer %#x..%#x not fully mapped", addr, uint32(addr)+uint32(len(data)))
	}
	if err := k.PageDir.CopyToUser(p.Dir, addr, data, uint32(len(data))); err != nil {
		return errors.Validation("syscall: copy to %#x failed", addr)
	}
	return nil
}

// resolvePath reads a path string argument and joins it against cwd
// when it is not already rooted.
func resolvePath(k *Kernel, p *process.Process, addr pagedir.VAddr) (string, error) {
	raw, err := readUserString(k, p, addr, MaxPathLen)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", errors.Validation("syscall: empty path")
	}
	if raw[0] == '/' {
		return raw, nil
	}
	if p.CWD == "/" {
		return "/" + raw, nil
	}
	return p.CWD + "/" + raw, nil
}
