// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors_test

import (
	"testing"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	err := errors.Resource("no free frames")
	assert.Equal(t, errors.ClassResource, errors.ClassOf(err))
	assert.Equal(t, "resource", errors.ClassOf(err).String())

	assert.Equal(t, errors.ClassNone, errors.ClassOf(errors.New("plain")))
	assert.Equal(t, errors.ClassNone, errors.ClassOf(nil))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, errors.Wrap(errors.ClassIO, nil))
}

func TestRetryable(t *testing.T) {
	err := errors.NewRetryable("dhcp timed out")
	assert.True(t, errors.Retryable(err))
	assert.False(t, errors.Retryable(errors.New("not retryable")))
}

func TestClassUnwrap(t *testing.T) {
	inner := errors.New("sector read failed")
	wrapped := errors.Wrap(errors.ClassIO, inner)
	assert.ErrorIs(t, wrapped, inner)
	assert.Equal(t, errors.ClassIO, errors.ClassOf(wrapped))
}
