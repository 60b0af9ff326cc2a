// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package fs_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/blockdev"
	"github.com/rohos/kernel/pkg/fs"
)

func freshFS(t *testing.T, sectors uint32) *fs.FS {
	t.Helper()
	dev := blockdev.NewMemory(sectors)
	f, err := fs.Format(logr.Discard(), dev, 64)
	require.NoError(t, err)
	return f
}

func TestFormatInstallsRoot(t *testing.T) {
	f := freshFS(t, 512)
	entries, err := f.List("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, uint32(63), f.Info().FreeInodes)
}

func TestCreateFileAndWriteRead(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateFile("/hello.txt")
	require.NoError(t, err)

	data := []byte("hello, kernel")
	n, err := f.Write("/hello.txt", data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	out := make([]byte, len(data))
	n, err = f.Read("/hello.txt", out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

func TestWriteRejectsNonZeroOffset(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateFile("/a")
	require.NoError(t, err)
	_, err = f.Write("/a", []byte("x"), 4)
	assert.Error(t, err)
}

// TestIndirectBlockWrite reproduces spec §8 scenario 4: a write large
// enough to spill past the 11 direct blocks into the single indirect
// block, verifying the full round trip.
func TestIndirectBlockWrite(t *testing.T) {
	f := freshFS(t, 4096)
	_, err := f.CreateFile("/big")
	require.NoError(t, err)

	data := make([]byte, 65536)
	for i := range data {
		data[i] = byte(i % 251)
	}

	n, err := f.Write("/big", data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	out := make([]byte, len(data))
	n, err = f.Read("/big", out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, out)
}

// TestDeleteAndReuseBlocks reproduces spec §8 scenario 5: deleting a
// file frees its blocks, and a subsequent file can reuse them.
func TestDeleteAndReuseBlocks(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateFile("/a")
	require.NoError(t, err)
	_, err = f.Write("/a", make([]byte, 2048), 0)
	require.NoError(t, err)

	before := f.Info().FreeBlocks
	require.NoError(t, f.Delete("/a"))
	after := f.Info().FreeBlocks
	assert.Greater(t, after, before)

	_, err = f.CreateFile("/b")
	require.NoError(t, err)
	n, err := f.Write("/b", make([]byte, 2048), 0)
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
}

func TestRenameLastComponentOnly(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateDir("/dir")
	require.NoError(t, err)
	_, err = f.CreateFile("/dir/a")
	require.NoError(t, err)

	require.NoError(t, f.Rename("/dir/a", "b"))

	entries, err := f.List("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].Name)
}

func TestRenameRejectsSiblingCollision(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateFile("/a")
	require.NoError(t, err)
	_, err = f.CreateFile("/b")
	require.NoError(t, err)

	err = f.Rename("/a", "b")
	assert.Error(t, err)
}

func TestPathResolutionRejectsMissingIntermediate(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.Read("/no/such/file", make([]byte, 1), 0)
	assert.Error(t, err)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	f := freshFS(t, 512)
	_, err := f.CreateFile("/dup")
	require.NoError(t, err)
	_, err = f.CreateFile("/dup")
	assert.Error(t, err)
}

func TestMountRejectsBadMagic(t *testing.T) {
	dev := blockdev.NewMemory(512)
	_, err := fs.Mount(logr.Discard(), dev)
	assert.Error(t, err)
}

func TestFormatMountRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(512)
	f, err := fs.Format(logr.Discard(), dev, 64)
	require.NoError(t, err)
	_, err = f.CreateFile("/persisted")
	require.NoError(t, err)
	require.NoError(t, f.Unmount())

	reopened, err := fs.Mount(logr.Discard(), dev)
	require.NoError(t, err)
	entries, err := reopened.List("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "persisted", entries[0].Name)
}
