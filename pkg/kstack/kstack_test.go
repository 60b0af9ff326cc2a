// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package kstack_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/kstack"
	"github.com/rohos/kernel/pkg/pagedir"
)

func setup(t *testing.T, slots, deferredCap int) (*kstack.Allocator, *pagedir.Service, *pagedir.Directory) {
	t.Helper()
	frames, err := frame.New(logr.Discard(), 0x100000, 32)
	require.NoError(t, err)
	pd := pagedir.NewService(logr.Discard(), frames)
	dir, err := pd.Create()
	require.NoError(t, err)
	ks, err := kstack.New(logr.Discard(), pd, pagedir.KernelBase, slots, deferredCap)
	require.NoError(t, err)
	return ks, pd, dir
}

func TestAllocGuardPageUnmapped(t *testing.T) {
	ks, pd, dir := setup(t, 2, 2)

	h, err := ks.Alloc(dir)
	require.NoError(t, err)

	assert.True(t, pd.UserRangeMapped(dir, h.Top, 1) == false) // not user-mapped (kernel only)
	assert.False(t, pd.UserRangeMapped(dir, h.Guard, 1))
}

func TestExhaustion(t *testing.T) {
	ks, _, dir := setup(t, 1, 2)

	_, err := ks.Alloc(dir)
	require.NoError(t, err)

	_, err = ks.Alloc(dir)
	assert.Error(t, err)
}

func TestDeferredFreeDrainsOnNextSwitch(t *testing.T) {
	ks, _, dir := setup(t, 1, 2)

	h, err := ks.Alloc(dir)
	require.NoError(t, err)

	require.NoError(t, ks.Free(dir, h, true))
	assert.Equal(t, 1, ks.PendingDeferred())

	// Slot should not be reusable until drained.
	_, err = ks.Alloc(dir)
	assert.Error(t, err)

	require.NoError(t, ks.DrainDeferred())
	assert.Equal(t, 0, ks.PendingDeferred())

	_, err = ks.Alloc(dir)
	assert.NoError(t, err)
}

func TestDeferredQueueBounded(t *testing.T) {
	ks, _, dir := setup(t, 3, 1)

	h1, err := ks.Alloc(dir)
	require.NoError(t, err)
	h2, err := ks.Alloc(dir)
	require.NoError(t, err)

	require.NoError(t, ks.Free(dir, h1, true))
	err = ks.Free(dir, h2, true)
	assert.Error(t, err, "deferred queue capacity 1 must reject a second pending free")
}
