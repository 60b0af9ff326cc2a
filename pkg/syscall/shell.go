// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package syscall

import (
	"github.com/rohos/kernel/pkg/pagedir"
	"github.com/rohos/kernel/pkg/process"
)

func init() {
	Register(ALIAS_SET, handleAliasSet)
	Register(ALIAS_GET, handleAliasGet)
	Register(ALIAS_LIST, handleAliasList)
	Register(HISTORY_ADD, handleHistoryAdd)
	Register(HISTORY_GET, handleHistoryGet)
}

func handleAliasSet(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	name, err := readUserString(k, p, pagedir.VAddr(args.A0), process.MaxAliasName-1)
	if err != nil {
		return ErrVal, false
	}
	cmd, err := readUserString(k, p, pagedir.VAddr(args.A1), process.MaxAliasCmd-1)
	if err != nil {
		return ErrVal, false
	}
	if !p.Session.SetAlias(name, cmd) {
		return ErrVal, false
	}
	return 0, false
}

func handleAliasGet(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	name, err := readUserString(k, p, pagedir.VAddr(args.A0), process.MaxAliasName-1)
	if err != nil {
		return ErrVal, false
	}
	cmd, ok := p.Session.Alias(name)
	if !ok {
		return ErrVal, false
	}
	out := append([]byte(cmd), 0)
	if uint32(len(out)) > args.A2 {
		return ErrVal, false
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), out); err != nil {
		return ErrVal, false
	}
	return uint32(len(cmd)), false
}

// aliasEntrySize packs one ALIAS_LIST record: name (32 bytes,
// NUL-padded) + cmd (256 bytes, NUL-padded).
const aliasEntrySize = process.MaxAliasName + process.MaxAliasCmd

func encodeAliasEntry(a process.Alias) []byte {
	out := make([]byte, aliasEntrySize)
	copy(out[:process.MaxAliasName], a.Name)
	copy(out[process.MaxAliasName:], a.Cmd)
	return out
}

func handleAliasList(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	aliases := p.Session.Aliases
	limit := int(args.A1)
	if limit < len(aliases) {
		aliases = aliases[:limit]
	}
	buf := make([]byte, 0, len(aliases)*aliasEntrySize)
	for _, a := range aliases {
		buf = append(buf, encodeAliasEntry(a)...)
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A0), buf); err != nil {
		return ErrVal, false
	}
	return uint32(len(aliases)), false
}

func handleHistoryAdd(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	cmd, err := readUserString(k, p, pagedir.VAddr(args.A0), process.MaxAliasCmd-1)
	if err != nil {
		return ErrVal, false
	}
	p.Session.AddHistory(cmd)
	return 0, false
}

func handleHistoryGet(k *Kernel, p *process.Process, args Args) (uint32, bool) {
	idx := int(args.A0)
	if idx < 0 || idx >= len(p.Session.History) {
		return ErrVal, false
	}
	cmd := p.Session.History[idx]
	out := append([]byte(cmd), 0)
	if uint32(len(out)) > args.A2 {
		return ErrVal, false
	}
	if err := writeUserBuf(k, p, pagedir.VAddr(args.A1), out); err != nil {
		return ErrVal, false
	}
	return uint32(len(cmd)), false
}
