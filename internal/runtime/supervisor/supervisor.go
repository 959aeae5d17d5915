// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, error logging, and graceful timeout-aware stop.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"whatspro/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger
	wg  sync.WaitGroup

	// Best-effort operational counters, not a synchronization primitive.
	started atomic.Uint64
	active  atomic.Int64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Counters returns (active, started).
func (s *Supervisor) Counters() (int64, uint64) {
	return s.active.Load(), s.started.Load()
}

// Go starts fn under the supervisor context. Panics are recovered and
// logged; a non-nil return error is logged but does not cancel siblings.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panic",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		if err := s.ctx.Err(); err != nil {
			return
		}
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("goroutine exited with error", logx.String("name", name), logx.Err(err))
		}
	}()
}

// Stop cancels the context and waits for all goroutines, or returns early
// when waitCtx expires (goroutines keep draining in the background).
func (s *Supervisor) Stop(waitCtx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-waitCtx.Done():
		return waitCtx.Err()
	}
}
