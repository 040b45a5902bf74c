// Package frame coalesces bursts of work to at most one run per display
// frame. Work is keyed; scheduling a key that is already pending replaces
// its callback so only the latest one runs.
package frame

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFPS is the frame rate used when New is given zero.
const DefaultFPS = 60

// Scheduler runs callbacks on its own goroutine, one batch per frame.
type Scheduler struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]func()
	order   []string

	wake chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New starts a scheduler running at most fps batches per second.
func New(fps int) *Scheduler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(fps)), 1),
		pending: make(map[string]func()),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

// Schedule queues fn under key for the next frame. A pending callback for
// the same key is replaced and keeps its place in the batch.
func (s *Scheduler) Schedule(key string, fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	if _, ok := s.pending[key]; !ok {
		s.order = append(s.order, key)
	}
	s.pending[key] = fn
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel drops a pending callback.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		delete(s.pending, key)
		s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	}
}

// Pending reports whether key is waiting for a frame.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Flush runs every pending callback now, on the caller's goroutine.
func (s *Scheduler) Flush() {
	for _, fn := range s.take() {
		fn()
	}
}

func (s *Scheduler) take() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]func(), 0, len(s.order))
	for _, key := range s.order {
		batch = append(batch, s.pending[key])
	}
	s.order = nil
	clear(s.pending)
	return batch
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		for _, fn := range s.take() {
			fn()
		}
	}
}

// Close stops the scheduler. Pending callbacks are dropped.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}
