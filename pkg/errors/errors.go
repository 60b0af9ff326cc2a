// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package errors wraps the standard errors package and adds the error
// classes the kernel uses to tag failures at their point of origin
// (see spec §7): resource exhaustion, validation, state, I/O, and
// protocol. Every class is a sentinel usable with Is/As so callers can
// branch on "what kind of failure" instead of matching strings.
package errors

import (
	stdliberrors "errors"
	"fmt"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}

// Class identifies which of the five kernel error categories an error
// belongs to. It is attached via Wrap and recovered with ClassOf.
type Class int

const (
	ClassNone Class = iota
	// ClassResource covers frame/inode/fd/block/pipe-capacity exhaustion.
	ClassResource
	// ClassValidation covers bad user pointers, path overflow, illegal
	// filenames, bad syscall numbers, unsupported seek whence.
	ClassValidation
	// ClassState covers operations invalid for the current object state:
	// write to a non-file inode, read from an unopened fd, wait on a
	// nonexistent pid, kill-self through the other-kill path.
	ClassState
	// ClassIO covers block-device read/write failures.
	ClassIO
	// ClassProtocol covers malformed network frames and bad checksums.
	ClassProtocol
)

func (c Class) String() string {
	switch c {
	case ClassResource:
		return "resource"
	case ClassValidation:
		return "validation"
	case ClassState:
		return "state"
	case ClassIO:
		return "io"
	case ClassProtocol:
		return "protocol"
	default:
		return "none"
	}
}

type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Wrap tags err with class. A nil err returns nil.
func Wrap(class Class, err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: err}
}

// Classf formats a message and tags it with class.
func Classf(class Class, format string, args ...any) error {
	return &classified{class: class, err: fmt.Errorf(format, args...)}
}

// ClassOf returns the class attached to err (or ClassNone if untagged),
// walking the Unwrap chain.
func ClassOf(err error) Class {
	var c *classified
	if As(err, &c) {
		return c.class
	}
	return ClassNone
}

// Resource, Validation, State, IO, and Protocol are convenience
// constructors for the five kernel error classes.
func Resource(format string, args ...any) error   { return Classf(ClassResource, format, args...) }
func Validation(format string, args ...any) error { return Classf(ClassValidation, format, args...) }
func State(format string, args ...any) error      { return Classf(ClassState, format, args...) }
func IO(format string, args ...any) error         { return Classf(ClassIO, format, args...) }
func Protocol(format string, args ...any) error   { return Classf(ClassProtocol, format, args...) }
