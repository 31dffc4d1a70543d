package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushAndCount(t *testing.T) {
	q := New[int](time.Second)
	defer q.Close()

	q.Push(1)
	q.Push(2)
	require.Equal(t, 2, q.Count())

	got := q.CopyInto(nil)
	require.Equal(t, []int{1, 2}, got)
}

func TestPushEvictsAgedEntriesImmediately(t *testing.T) {
	q := New[int](30 * time.Millisecond)
	defer q.Close()

	q.Push(1)
	time.Sleep(50 * time.Millisecond)
	q.Push(2)

	require.Equal(t, []int{2}, q.CopyInto(nil))
}

func TestGCTickEvictsWithoutFurtherPushes(t *testing.T) {
	q := New[int](30 * time.Millisecond)
	defer q.Close()

	q.Push(1)
	require.Eventually(t, func() bool {
		return q.Count() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSetLengthShrinksRetention(t *testing.T) {
	q := New[int](time.Minute)
	defer q.Close()

	q.Push(1)
	q.SetLength(20 * time.Millisecond)
	require.Eventually(t, func() bool { return q.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestClearDropsEntries(t *testing.T) {
	q := New[int](time.Minute)
	defer q.Close()

	q.Push(1)
	q.Clear()
	require.Equal(t, 0, q.Count())
}

func TestFlushingDrainsUntilDisabled(t *testing.T) {
	q := New[int](time.Minute)
	defer q.Close()

	var mu sync.Mutex
	var got []int
	q.SetFlushingCallback(func(v int) bool {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		return true
	})

	require.True(t, q.EnableFlushing())
	require.False(t, q.EnableFlushing(), "EnableFlushing should no-op once already flushing")

	q.Push(1)
	q.Push(2)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	require.True(t, q.DisableFlushing())
	require.False(t, q.DisableFlushing(), "DisableFlushing should no-op once already stopped")

	q.Push(3)
	require.Equal(t, 1, q.Count())
}

func TestFlushingStopsWhenCallbackReturnsFalse(t *testing.T) {
	q := New[int](time.Minute)
	defer q.Close()

	var calls int32
	q.SetFlushingCallback(func(int) bool {
		atomic.AddInt32(&calls, 1)
		return false
	})
	q.EnableFlushing()
	q.Push(1)
	q.Push(2)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "flusher must stop after the first false return")
	require.Equal(t, 1, q.Count(), "the second entry is never taken once the flusher has stopped")
}

func TestNoCallbackLeavesEntriesInPlace(t *testing.T) {
	q := New[int](time.Minute)
	defer q.Close()

	q.EnableFlushing()
	q.Push(1)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, q.Count())
}
