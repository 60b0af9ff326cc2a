// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package process

// MaxAliases and MaxAliasName/MaxAliasCmd bound the alias table (spec
// §6: "aliases ≤32 name / ≤256 cmd"). MaxHistory is this
// implementation's choice for the command history ring, not specified
// by spec.md; it is generous enough for interactive use without
// growing the process record unboundedly.
const (
	MaxAliases   = 32
	MaxAliasName = 32
	MaxAliasCmd  = 256
	MaxHistory   = 64
)

// Alias is one shell alias entry (original_source/kernel/shell.c's
// alias table, carried per-process rather than kernel-global).
type Alias struct {
	Name string
	Cmd  string
}

// Session holds the per-process shell-glue state named in spec §4.5's
// "shell glue" syscall category but never itself specified: aliases
// and command history. It is not the text-shell command parser (out of
// scope per spec §1) — just the fixed-capacity tables the ALIAS_*/
// HISTORY_* syscalls read and write.
type Session struct {
	Aliases []Alias
	History []string
}

// SetAlias inserts or replaces the alias named name. It fails once the
// table is full and name is not already present.
func (s *Session) SetAlias(name, cmd string) bool {
	for i := range s.Aliases {
		if s.Aliases[i].Name == name {
			s.Aliases[i].Cmd = cmd
			return true
		}
	}
	if len(s.Aliases) >= MaxAliases {
		return false
	}
	s.Aliases = append(s.Aliases, Alias{Name: name, Cmd: cmd})
	return true
}

// RemoveAlias deletes the alias named name, reporting whether one was
// found.
func (s *Session) RemoveAlias(name string) bool {
	for i := range s.Aliases {
		if s.Aliases[i].Name == name {
			s.Aliases = append(s.Aliases[:i], s.Aliases[i+1:]...)
			return true
		}
	}
	return false
}

// Alias looks up an alias by name.
func (s *Session) Alias(name string) (string, bool) {
	for _, a := range s.Aliases {
		if a.Name == name {
			return a.Cmd, true
		}
	}
	return "", false
}

// AddHistory appends cmd to the history ring, dropping the oldest
// entry once MaxHistory is reached.
func (s *Session) AddHistory(cmd string) {
	if len(s.History) >= MaxHistory {
		s.History = append(s.History[1:], cmd)
		return
	}
	s.History = append(s.History, cmd)
}
