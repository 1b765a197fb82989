package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitQueued(t *testing.T, l *RWLock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Waiting() == n }, time.Second, time.Millisecond)
}

func TestExclusiveSectionsNeverOverlap(t *testing.T) {
	l := New()
	var inside, maxInside, readers int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), Exclusive, func() error {
				n := atomic.AddInt32(&inside, 1)
				if r := atomic.LoadInt32(&readers); r != 0 {
					t.Errorf("exclusive overlapped %d readers", r)
				}
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), Shared, func() error {
				atomic.AddInt32(&readers, 1)
				if atomic.LoadInt32(&inside) != 0 {
					t.Errorf("shared overlapped exclusive")
				}
				time.Sleep(50 * time.Microsecond)
				atomic.AddInt32(&readers, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	shared, excl := l.Held()
	assert.Zero(t, shared)
	assert.False(t, excl)
}

func TestSharedHoldersRunTogether(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Shared))
	require.NoError(t, l.Acquire(ctx, Shared))
	shared, _ := l.Held()
	assert.Equal(t, 2, shared)
	l.Release(Shared)
	l.Release(Shared)
}

func TestReleaseDrainsInOrderAndStopsAfterExclusive(t *testing.T) {
	l := New()
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Exclusive))

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	done := make(chan struct{}, 3)
	go func() {
		assert.NoError(t, l.Acquire(ctx, Shared))
		record("s1")
		done <- struct{}{}
	}()
	waitQueued(t, l, 1)
	go func() {
		assert.NoError(t, l.Acquire(ctx, Exclusive))
		record("x")
		done <- struct{}{}
	}()
	waitQueued(t, l, 2)
	go func() {
		assert.NoError(t, l.Acquire(ctx, Shared))
		record("s2")
		done <- struct{}{}
	}()
	waitQueued(t, l, 3)

	l.Release(Exclusive)
	<-done
	<-done
	// s1 and s2 are granted; x stays queued behind the shared holders.
	shared, excl := l.Held()
	assert.Equal(t, 2, shared)
	assert.False(t, excl)
	assert.Equal(t, 1, l.Waiting())

	l.Release(Shared)
	l.Release(Shared)
	<-done
	_, excl = l.Held()
	assert.True(t, excl)
	l.Release(Exclusive)
	assert.ElementsMatch(t, []string{"s1", "s2", "x"}, order)
	assert.Equal(t, "x", order[2])
}

func TestWriterPreferenceBlocksNewReaders(t *testing.T) {
	l := New(WithWriterPreference())
	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, Shared))

	gotX := make(chan struct{})
	go func() {
		assert.NoError(t, l.Acquire(ctx, Exclusive))
		close(gotX)
	}()
	waitQueued(t, l, 1)

	gotS := make(chan struct{})
	go func() {
		assert.NoError(t, l.Acquire(ctx, Shared))
		close(gotS)
	}()
	waitQueued(t, l, 2)

	l.Release(Shared)
	<-gotX
	select {
	case <-gotS:
		t.Fatal("reader granted while writer held the lock")
	default:
	}
	l.Release(Exclusive)
	<-gotS
	l.Release(Shared)
}

func TestAcquireHonoursCancellation(t *testing.T) {
	l := New()
	require.NoError(t, l.Acquire(context.Background(), Exclusive))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Acquire(ctx, Shared) }()
	waitQueued(t, l, 1)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, 0, l.Waiting())

	l.Release(Exclusive)
	shared, excl := l.Held()
	assert.Zero(t, shared)
	assert.False(t, excl)
}

func TestDoReleasesOnError(t *testing.T) {
	l := New()
	err := l.Do(context.Background(), Exclusive, func() error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	_, excl := l.Held()
	assert.False(t, excl)
}
