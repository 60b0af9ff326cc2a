// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package blockdev

import "sync"

// Memory is an in-process Device backed by a flat byte slice, used in
// tests and for a scratch/ephemeral filesystem.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory creates a zero-filled device with the given sector count.
func NewMemory(sectors uint32) *Memory {
	return &Memory{data: make([]byte, uint64(sectors)*SectorSize)}
}

func (m *Memory) Sectors() uint32 {
	return uint32(len(m.data) / SectorSize)
}

func (m *Memory) ReadSectors(lba, count uint32, buf []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := uint64(lba) * SectorSize
	end := start + uint64(count)*SectorSize
	if end > uint64(len(m.data)) || uint64(len(buf)) < end-start {
		return false
	}
	copy(buf, m.data[start:end])
	return true
}

func (m *Memory) WriteSectors(lba, count uint32, buf []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := uint64(lba) * SectorSize
	end := start + uint64(count)*SectorSize
	if end > uint64(len(m.data)) || uint64(len(buf)) < end-start {
		return false
	}
	copy(m.data[start:end], buf)
	return true
}
