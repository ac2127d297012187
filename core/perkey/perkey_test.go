package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_OrderPerKey(t *testing.T) {
	s := New[string]()

	var mu sync.Mutex
	seen := map[string][]int{}
	for i := range 50 {
		for _, key := range []string{"a", "b"} {
			require.NoError(t, s.Submit(key, func() {
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}))
		}
	}
	require.NoError(t, s.Close(t.Context()))

	for _, key := range []string{"a", "b"} {
		require.Len(t, seen[key], 50)
		for i, v := range seen[key] {
			require.Equal(t, i, v, "key %s out of order", key)
		}
	}
}

func TestScheduler_NeverOverlapsPerKey(t *testing.T) {
	s := New[int]()
	var inFlight, overlaps atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(t.Context(), 1, func() error {
				if inFlight.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.Zero(t, overlaps.Load())
}

func TestScheduler_ParallelAcrossKeys(t *testing.T) {
	s := New[string]()
	release := make(chan struct{})
	var started sync.WaitGroup

	for i := range 3 {
		started.Add(1)
		require.NoError(t, s.Submit(fmt.Sprint(i), func() {
			started.Done()
			<-release
		}))
	}

	waited := make(chan struct{})
	go func() {
		started.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("tasks for different keys did not run concurrently")
	}
	require.Equal(t, 3, s.Lanes())
	close(release)
	require.NoError(t, s.Close(t.Context()))
	require.Zero(t, s.Lanes(), "idle lanes are released")
}

func TestScheduler_DoReturnsError(t *testing.T) {
	s := New[string]()
	boom := errors.New("boom")

	err := s.Do(t.Context(), "k", func() error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, s.Do(t.Context(), "k", func() error { return nil }))
}

func TestScheduler_DoContext(t *testing.T) {
	s := New[string]()
	block := make(chan struct{})
	require.NoError(t, s.Submit("k", func() { <-block }))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	ran := make(chan struct{})
	err := s.Do(ctx, "k", func() error {
		close(ran)
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued task did not run after its caller gave up")
	}

	cancelled, cancelNow := context.WithCancel(t.Context())
	cancelNow()
	require.ErrorIs(t, s.Do(cancelled, "k", func() error { return nil }), context.Canceled)
}

func TestScheduler_Close(t *testing.T) {
	s := New[string]()
	block := make(chan struct{})
	require.NoError(t, s.Submit("k", func() { <-block }))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, s.Submit("k", func() {}), ErrClosed)
	require.ErrorIs(t, s.Do(t.Context(), "k", func() error { return nil }), ErrClosed)

	close(block)
	require.NoError(t, s.Close(t.Context()))
}
