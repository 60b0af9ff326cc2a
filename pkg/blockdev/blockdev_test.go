// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohos/kernel/pkg/blockdev"
)

func TestMemoryReadWriteRoundTrip(t *testing.T) {
	dev := blockdev.NewMemory(4)
	out := make([]byte, blockdev.SectorSize)
	in := make([]byte, blockdev.SectorSize)
	for i := range in {
		in[i] = byte(i)
	}

	require.True(t, dev.WriteSectors(2, 1, in))
	require.True(t, dev.ReadSectors(2, 1, out))
	assert.Equal(t, in, out)
}

func TestMemoryRejectsOutOfRange(t *testing.T) {
	dev := blockdev.NewMemory(2)
	buf := make([]byte, blockdev.SectorSize)
	assert.False(t, dev.ReadSectors(5, 1, buf))
	assert.False(t, dev.WriteSectors(5, 1, buf))
}

func testBadgerRoundTrip(t *testing.T, dev *blockdev.Badger) {
	t.Helper()
	in := make([]byte, blockdev.SectorSize)
	in[0] = 0xAB
	require.True(t, dev.WriteSectors(0, 1, in))

	out := make([]byte, blockdev.SectorSize)
	require.True(t, dev.ReadSectors(0, 1, out))
	assert.Equal(t, in, out)
}

func TestBadgerReadWriteRoundTrip(t *testing.T) {
	dev, err := blockdev.OpenBadger("", 16)
	require.NoError(t, err)
	defer dev.Close()

	testBadgerRoundTrip(t, dev)
}

func TestBadgerUnwrittenSectorReadsZero(t *testing.T) {
	dev, err := blockdev.OpenBadger("", 16)
	require.NoError(t, err)
	defer dev.Close()

	out := make([]byte, blockdev.SectorSize)
	out[0] = 0xFF
	require.True(t, dev.ReadSectors(3, 1, out))
	for _, b := range out {
		assert.Zero(t, b)
	}
}
