// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package ring_test

import (
	"testing"

	"github.com/rohos/kernel/pkg/internal/ring"
	"github.com/stretchr/testify/assert"
)

func TestRing(t *testing.T) {
	t.Run("basic push and getAll", func(t *testing.T) {
		r, err := ring.New[int](3)
		assert.NoError(t, err)

		assert.Equal(t, []int{}, r.GetAll())
		assert.Equal(t, 0, r.Len())
		assert.Equal(t, 3, r.Cap())

		r.Push(1)
		assert.Equal(t, []int{1}, r.GetAll())
		assert.Equal(t, 1, r.Len())

		r.Push(2)
		r.Push(3)
		assert.Equal(t, []int{1, 2, 3}, r.GetAll())
	})

	t.Run("overflow drops oldest", func(t *testing.T) {
		r, err := ring.New[string](3)
		assert.NoError(t, err)

		r.Push("a")
		r.Push("b")
		r.Push("c")
		r.Push("d")
		assert.Equal(t, []string{"b", "c", "d"}, r.GetAll())

		r.Push("e")
		r.Push("f")
		assert.Equal(t, []string{"d", "e", "f"}, r.GetAll())
	})

	t.Run("clear resets state", func(t *testing.T) {
		r, _ := ring.New[int](2)
		r.Push(1)
		r.Push(2)
		r.Clear()
		assert.Equal(t, 0, r.Len())
		assert.Equal(t, []int{}, r.GetAll())
	})

	t.Run("rejects non-positive capacity", func(t *testing.T) {
		_, err := ring.New[int](0)
		assert.Error(t, err)
	})
}
