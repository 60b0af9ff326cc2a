// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package blockdev

import (
	"encoding/binary"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/rohos/kernel/pkg/errors"
)

// sectorKey is shared by the byte-ordered key prefix every entry uses.
var sectorKey = []byte("sect")

func keyFor(lba uint32) []byte {
	k := make([]byte, len(sectorKey)+4)
	copy(k, sectorKey)
	binary.BigEndian.PutUint32(k[len(sectorKey):], lba)
	return k
}

// Badger is a Device backed by a dgraph-io/badger key-value store, one
// entry per sector, keyed big-endian so adjacent sectors sort
// together. It durably persists the filesystem image across process
// restarts the way the in-memory Device cannot.
type Badger struct {
	db      *badger.DB
	sectors uint32
}

// OpenBadger opens (or creates) a badger-backed device at dir with the
// given total sector count. dir == "" opens an in-memory badger
// instance, useful for tests that want durability semantics without
// touching disk.
func OpenBadger(dir string, sectors uint32) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.IO("blockdev: opening badger store: %v", err)
	}
	return &Badger{db: db, sectors: sectors}, nil
}

// Close releases the underlying badger store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Sectors() uint32 { return b.sectors }

func (b *Badger) ReadSectors(lba, count uint32, buf []byte) bool {
	if uint64(lba)+uint64(count) > uint64(b.sectors) || uint64(len(buf)) < uint64(count)*SectorSize {
		return false
	}
	err := b.db.View(func(txn *badger.Txn) error {
		for i := uint32(0); i < count; i++ {
			dst := buf[i*SectorSize : (i+1)*SectorSize]
			item, err := txn.Get(keyFor(lba + i))
			if err == badger.ErrKeyNotFound {
				for j := range dst {
					dst[j] = 0
				}
				continue
			}
			if err != nil {
				return err
			}
			n, err := copyValue(item, dst)
			if err != nil {
				return err
			}
			for j := n; j < len(dst); j++ {
				dst[j] = 0
			}
		}
		return nil
	})
	return err == nil
}

func copyValue(item *badger.Item, dst []byte) (int, error) {
	var n int
	err := item.Value(func(val []byte) error {
		n = copy(dst, val)
		return nil
	})
	return n, err
}

func (b *Badger) WriteSectors(lba, count uint32, buf []byte) bool {
	if uint64(lba)+uint64(count) > uint64(b.sectors) || uint64(len(buf)) < uint64(count)*SectorSize {
		return false
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for i := uint32(0); i < count; i++ {
			src := buf[i*SectorSize : (i+1)*SectorSize]
			cp := make([]byte, SectorSize)
			copy(cp, src)
			if err := txn.Set(keyFor(lba+i), cp); err != nil {
				return err
			}
		}
		return nil
	})
	return err == nil
}
