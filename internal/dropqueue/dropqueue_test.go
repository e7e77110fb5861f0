// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dropqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](4)

	for i := range 3 {
		assert.False(t, q.Push(i))
	}

	for i := range 3 {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_DropOldest(t *testing.T) {
	q := New[int](3)

	for i := range 5 {
		q.Push(i)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())

	var got []int

	for {
		v, ok := q.Pop()
		if !ok {
			break
		}

		got = append(got, v)
	}

	assert.Equal(t, []int{2, 3, 4}, got)
}

func TestQueue_MinimumCapacity(t *testing.T) {
	q := New[string](0)
	q.Push("a")
	assert.True(t, q.Push("b"))

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestQueue_NextBlocksUntilPush(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := New[int](2)
	got := make(chan int, 1)

	go func() {
		v, ok := q.Next(context.Background())
		if ok {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Push")
	}

	q.Close()
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := New[int](2)
	q.Push(1)
	q.Close()

	assert.False(t, q.Push(2), "push after close must be ignored")

	v, ok := q.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.Next(context.Background())
	assert.False(t, ok)

	q.Close()
}

func TestQueue_NextHonoursContext(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)

	defer cancel()

	_, ok := q.Next(ctx)
	assert.False(t, ok)
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int](1000)

	var wg sync.WaitGroup

	for w := range 10 {
		wg.Add(1)

		go func(base int) {
			defer wg.Done()

			for i := range 100 {
				q.Push(base*100 + i)
			}
		}(w)
	}

	wg.Wait()
	assert.Equal(t, 1000, q.Len())
	assert.Zero(t, q.Dropped())
}
