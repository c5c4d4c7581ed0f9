package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("serializer is closed")

// Handler processes one job. It never runs concurrently with itself within
// a Serializer.
type Handler[T any, R any] func(ctx context.Context, payload T) (R, error)

// Pending is the completion handle of a submitted job.
type Pending[R any] struct {
	done   chan struct{}
	result R
	err    error
}

func (p *Pending[R]) resolve(result R, err error) {
	p.result = result
	p.err = err
	close(p.done)
}

// Done is closed once the job has finished.
func (p *Pending[R]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the job finishes or ctx ends. Giving up does not cancel
// the job; it still occupies its slot and runs to completion.
func (p *Pending[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

type job[T any, R any] struct {
	payload T
	pending *Pending[R]
}

// Serializer runs submitted jobs one at a time in arrival order on a single
// owning goroutine. Submit never blocks on the running job.
type Serializer[T any, R any] struct {
	handler Handler[T, R]

	// Context passed to the handler. Outlives every caller's context.
	ctx context.Context

	mu         sync.Mutex
	queue      []*job[T, R]
	processing bool
	closed     bool

	// Signals the loop that the queue may be non-empty. Buffered with one
	// slot so that signalling never blocks.
	wake chan struct{}

	// Closed when the loop exits.
	stopped chan struct{}

	// Called with the queue length after every change.
	onDepth func(int)
}

func NewSerializer[T any, R any](ctx context.Context, handler Handler[T, R], onDepth func(int)) *Serializer[T, R] {
	if onDepth == nil {
		onDepth = func(int) {}
	}
	s := &Serializer[T, R]{
		handler: handler,
		ctx:     context.WithoutCancel(ctx),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		onDepth: onDepth,
	}
	go s.loop()
	return s
}

// Submit appends a job to the queue and returns its completion handle.
// After Close, the handle resolves immediately with ErrClosed.
func (s *Serializer[T, R]) Submit(payload T) *Pending[R] {
	pending := &Pending[R]{done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		var zero R
		pending.resolve(zero, ErrClosed)
		return pending
	}
	s.queue = append(s.queue, &job[T, R]{payload: payload, pending: pending})
	depth := len(s.queue)
	s.mu.Unlock()

	s.onDepth(depth)
	s.signal()
	return pending
}

// Do submits a job and waits for it.
func (s *Serializer[T, R]) Do(ctx context.Context, payload T) (R, error) {
	return s.Submit(payload).Wait(ctx)
}

// Len returns the number of jobs waiting, excluding the running one.
func (s *Serializer[T, R]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Busy reports whether a job is running.
func (s *Serializer[T, R]) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Close stops accepting jobs, lets every queued job finish, and waits for
// the loop to exit or ctx to end.
func (s *Serializer[T, R]) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("serializer did not drain: %w", ctx.Err())
	}
}

func (s *Serializer[T, R]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Serializer[T, R]) loop() {
	defer close(s.stopped)
	for range s.wake {
		for {
			next, depth, ok := s.dequeue()
			if !ok {
				break
			}
			s.onDepth(depth)
			s.run(next)
		}

		s.mu.Lock()
		done := s.closed && len(s.queue) == 0
		s.mu.Unlock()
		if done {
			return
		}
	}
}

func (s *Serializer[T, R]) dequeue() (*job[T, R], int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.processing = false
		return nil, 0, false
	}
	next := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.processing = true
	return next, len(s.queue), true
}

func (s *Serializer[T, R]) run(next *job[T, R]) {
	var (
		result R
		err    error
	)
	defer func() {
		if recovered := recover(); recovered != nil {
			var zero R
			next.pending.resolve(zero, fmt.Errorf("handler panicked: %v", recovered))
			return
		}
		next.pending.resolve(result, err)
	}()
	result, err = s.handler(s.ctx, next.payload)
}
