// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package pagedir_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/frame"
	"github.com/rohos/kernel/pkg/pagedir"
)

func newService(t *testing.T, frames int) (*pagedir.Service, *frame.Allocator) {
	t.Helper()
	a, err := frame.New(logr.Discard(), 0x100000, frames)
	require.NoError(t, err)
	return pagedir.NewService(logr.Discard(), a), a
}

func TestMapAllocAndCopy(t *testing.T) {
	svc, _ := newService(t, 8)
	dir, err := svc.Create()
	require.NoError(t, err)

	const vaddr = pagedir.UserStart
	_, err = svc.MapAlloc(dir, vaddr, pagedir.FlagUser|pagedir.FlagWritable)
	require.NoError(t, err)

	assert.True(t, svc.UserRangeMapped(dir, vaddr, 4))

	in := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	require.NoError(t, svc.CopyToUser(dir, vaddr, in, 4))

	out := make([]byte, 4)
	require.NoError(t, svc.CopyFromUser(dir, out, vaddr, 4))
	assert.Equal(t, in, out)
}

func TestUnmappedRangeRejected(t *testing.T) {
	svc, _ := newService(t, 8)
	dir, err := svc.Create()
	require.NoError(t, err)

	assert.False(t, svc.UserRangeMapped(dir, pagedir.UserStart, 4))
	err = svc.CopyFromUser(dir, make([]byte, 4), pagedir.UserStart, 4)
	assert.Error(t, err)
}

func TestKernelAddressNeverUserMapped(t *testing.T) {
	svc, _ := newService(t, 8)
	dir, err := svc.Create()
	require.NoError(t, err)

	assert.False(t, svc.UserRangeMapped(dir, pagedir.KernelBase, 4))
}

// TestCOWScenario reproduces spec §8 end-to-end scenario 3: parent maps
// a page and writes to it, fork (clone_cow) shares it, child reads the
// parent's byte, child writes its own byte, and the parent's copy is
// unaffected.
func TestCOWScenario(t *testing.T) {
	svc, frames := newService(t, 8)

	parent, err := svc.Create()
	require.NoError(t, err)
	child, err := svc.Create()
	require.NoError(t, err)

	const vaddr = pagedir.UserStart
	phys, err := svc.MapAlloc(parent, vaddr, pagedir.FlagUser|pagedir.FlagWritable)
	require.NoError(t, err)
	require.NoError(t, svc.CopyToUser(parent, vaddr, []byte{0xAA}, 1))

	modified, err := svc.CloneCOW(parent, child)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.EqualValues(t, 2, frames.RefCount(phys))

	// Child reads parent's byte.
	out := make([]byte, 1)
	require.NoError(t, svc.CopyFromUser(child, out, vaddr, 1))
	assert.Equal(t, byte(0xAA), out[0])

	// Child writes -> triggers COW fault -> private copy.
	require.NoError(t, svc.CopyToUser(child, vaddr, []byte{0x55}, 1))

	require.NoError(t, svc.CopyFromUser(parent, out, vaddr, 1))
	assert.Equal(t, byte(0xAA), out[0], "parent must not observe child's write")

	require.NoError(t, svc.CopyFromUser(child, out, vaddr, 1))
	assert.Equal(t, byte(0x55), out[0])

	assert.EqualValues(t, 1, frames.RefCount(phys), "parent now sole owner of original frame")
}

func TestDestroyReleasesFrames(t *testing.T) {
	svc, frames := newService(t, 4)
	dir, err := svc.Create()
	require.NoError(t, err)

	phys, err := svc.MapAlloc(dir, pagedir.UserStart, pagedir.FlagUser|pagedir.FlagWritable)
	require.NoError(t, err)
	assert.EqualValues(t, 1, frames.RefCount(phys))

	require.NoError(t, svc.Destroy(dir))
	assert.EqualValues(t, 0, frames.RefCount(phys))
}

func TestUnmapFreesOnLastReference(t *testing.T) {
	svc, frames := newService(t, 4)
	dir, err := svc.Create()
	require.NoError(t, err)

	phys, err := svc.MapAlloc(dir, pagedir.UserStart, pagedir.FlagUser|pagedir.FlagWritable)
	require.NoError(t, err)

	require.NoError(t, svc.Unmap(dir, pagedir.UserStart, true))
	assert.EqualValues(t, 0, frames.RefCount(phys))
	assert.False(t, svc.UserRangeMapped(dir, pagedir.UserStart, 1))
}
