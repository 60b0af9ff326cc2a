// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package frame_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/errors"
	"github.com/rohos/kernel/pkg/frame"
)

func newAllocator(t *testing.T, count int) *frame.Allocator {
	t.Helper()
	a, err := frame.New(logr.Discard(), 0x100000, count)
	require.NoError(t, err)
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newAllocator(t, 4)

	p1, err := a.Alloc()
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.RefCount(p1))

	require.NoError(t, a.Free(p1))
	assert.EqualValues(t, 0, a.RefCount(p1))

	stats := a.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Free)
}

func TestExhaustion(t *testing.T) {
	a := newAllocator(t, 2)

	_, err := a.Alloc()
	require.NoError(t, err)
	_, err = a.Alloc()
	require.NoError(t, err)

	_, err = a.Alloc()
	require.Error(t, err)
	assert.Equal(t, errors.ClassResource, errors.ClassOf(err))
}

func TestRefCountingSharedFrame(t *testing.T) {
	a := newAllocator(t, 2)

	p, err := a.Alloc()
	require.NoError(t, err)

	after, err := a.RefInc(p)
	require.NoError(t, err)
	assert.EqualValues(t, 2, after)

	after, err = a.RefDec(p)
	require.NoError(t, err)
	assert.EqualValues(t, 1, after)

	// Still referenced once: freeing the pool shouldn't reuse it yet.
	p2, err := a.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, p, p2)

	after, err = a.RefDec(p)
	require.NoError(t, err)
	assert.EqualValues(t, 0, after)
}

func TestInvalidFrameAddress(t *testing.T) {
	a := newAllocator(t, 2)

	_, err := a.RefInc(0x1)
	assert.Equal(t, errors.ClassValidation, errors.ClassOf(err))

	err = a.Free(0x1)
	assert.Equal(t, errors.ClassValidation, errors.ClassOf(err))
}

func TestDoubleFreeIsState(t *testing.T) {
	a := newAllocator(t, 1)
	p, err := a.Alloc()
	require.NoError(t, err)
	require.NoError(t, a.Free(p))

	err = a.Free(p)
	assert.Equal(t, errors.ClassState, errors.ClassOf(err))
}

func TestRejectsBadConstruction(t *testing.T) {
	_, err := frame.New(logr.Discard(), 0, 0)
	assert.Error(t, err)

	_, err = frame.New(logr.Discard(), 1, 4)
	assert.Error(t, err)
}
