// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package syscall is the software-interrupt dispatcher (spec §4.5): one
// entry point, 47 call handlers grouped by category (the Graphics and
// HEAP_STATS numbers below have no registered handler, so a trap with
// one of them gets ErrVal), each validating
// user pointers before touching them and writing its result into the
// calling process's saved EAX exactly once. Handlers register
// themselves against a call number in an init() per category file, the
// same self-registration idiom the kernel's introspection collectors
// use.
package syscall

// Num is a syscall call number. Values are this implementation's own
// numbering — spec.md calls the numbers implementation-defined and
// only fixes the logical names and categories.
type Num uint32

const (
	// I/O
	WRITE Num = iota + 1
	READ
	OPEN
	CLOSE
	SEEK
	STAT
	CHMOD

	// FS
	LISTDIR
	MKDIR
	RM
	TOUCH
	RENAME
	WRITEFILE
	FS_FREE_BLOCKS
	GETCWD
	SETCWD
)

const (
	// Process
	EXIT Num = iota + 100
	FORK
	EXEC
	WAIT
	SPAWN
	KILL
	BRK
	GETARGS
	PROCESS_COUNT
	PROCESS_LIST
)

const (
	// IPC
	PIPE Num = iota + 200
	DUP2
)

const (
	// Timing
	GET_TICKS Num = iota + 300
	SLEEP_MS
)

const (
	// Console/TTY
	CLEAR Num = iota + 400
	SETCOLOR
	GETCHAR
	KEYBOARD_HAS_INPUT
	KEY_REPEAT
)

const (
	// Shell glue
	ALIAS_SET Num = iota + 500
	ALIAS_GET
	ALIAS_LIST
	HISTORY_ADD
	HISTORY_GET
)

const (
	// Audio
	BEEP Num = iota + 600
	SPEAKER_START
	SPEAKER_STOP
	AUDIO_WRITE
	AUDIO_SET_VOLUME
	AUDIO_GET_VOLUME
	AUDIO_STATUS
)

const (
	// Graphics
	GFX_SET_MODE Num = iota + 700
	GFX_GET_MODE
	GFX_DIMENSIONS
	GFX_CLEAR
	GFX_PUTPIXEL
	GFX_DRAW_RECT
	GFX_FILL_RECT
	GFX_DRAW_LINE
	GFX_DRAW_CHAR
	GFX_PRINT
	GFX_BLIT
	GFX_FLIP
	GFX_DOUBLEBUFFER_ENABLE
	GFX_DOUBLEBUFFER_DISABLE
	MOUSE_GET_STATE
)

const (
	// Introspection/debug. HEAP_STATS has a number but no registered
	// handler: Dispatch treats it as an unknown call and returns ErrVal.
	// INSTALL_EMBEDDED (embedding a prebuilt ELF image into the
	// filesystem at boot) has neither a number nor a handler here — see
	// DESIGN.md.
	HEAP_STATS Num = iota + 800
)

// ErrVal is the universal syscall failure return: all-ones in EAX.
const ErrVal uint32 = 0xFFFFFFFF

// MaxPathLen bounds a path string copied in from user memory (spec
// "External interfaces": paths ≤127).
const MaxPathLen = 127

// MaxArgsLen bounds the raw argument blob GETARGS/EXEC round-trip
// (spec's USERMODE_MAX_ARGS). 4096 bytes is generous for a handful of
// argv strings without letting a single exec pin an unbounded kernel
// buffer.
const MaxArgsLen = 4096
