// Package perkey runs work sequentially per key while different keys
// proceed concurrently.
//
// Each key owns a lane: a FIFO queue drained by one goroutine that exits
// once the queue is empty, so idle keys hold no resources.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("perkey: scheduler is closed")

type lane struct {
	queue   []func()
	running bool
}

// Scheduler serializes tasks submitted for the same key.
type Scheduler[K comparable] struct {
	mu      sync.Mutex
	lanes   map[K]*lane
	closed  bool
	pending sync.WaitGroup
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{lanes: make(map[K]*lane)}
}

// Submit enqueues fn for key and returns without waiting for it.
func (s *Scheduler[K]) Submit(key K, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	l.queue = append(l.queue, fn)
	s.pending.Add(1)
	if !l.running {
		l.running = true
		go s.drain(key, l)
	}
	return nil
}

// Do enqueues fn for key and waits for its result. When ctx ends first
// the task still runs but its result is dropped.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	if err := s.Submit(key, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs the queue of l. Completion is recorded under the lock so a
// lane is gone by the time Close observes its last task done.
func (s *Scheduler[K]) drain(key K, l *lane) {
	s.mu.Lock()
	for len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		s.mu.Unlock()

		fn()

		s.mu.Lock()
		s.pending.Done()
	}
	l.running = false
	delete(s.lanes, key)
	s.mu.Unlock()
}

// Lanes returns the number of keys with queued or running work.
func (s *Scheduler[K]) Lanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close rejects further submissions and waits until queued work finished
// or ctx ends.
func (s *Scheduler[K]) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
