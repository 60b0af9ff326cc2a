// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package queue_test

import (
	"testing"

	"github.com/rohos/kernel/pkg/internal/queue"
	"github.com/stretchr/testify/assert"
)

func TestQueueFIFOOrder(t *testing.T) {
	q, err := queue.New[int](4)
	assert.NoError(t, err)

	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.True(t, q.Push(3))

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.True(t, q.Push(4))
	assert.Equal(t, []int{2, 3, 4}, q.DrainAll())
	assert.Equal(t, 0, q.Len())
}

func TestQueueRefusesOverflow(t *testing.T) {
	q, _ := queue.New[int](2)
	assert.True(t, q.Push(1))
	assert.True(t, q.Push(2))
	assert.False(t, q.Push(3))
	assert.Equal(t, 2, q.Len())
}

func TestQueuePopEmpty(t *testing.T) {
	q, _ := queue.New[int](1)
	_, ok := q.Pop()
	assert.False(t, ok)
}
