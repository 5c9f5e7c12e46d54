package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultDrainTimeout = 10 * time.Second

var (
	ErrInvalidState = errors.New("runner: invalid state transition")
	ErrDrainTimeout = errors.New("runner: drain timeout")
)

// LifecycleRunner holds the process between start and shutdown. Run blocks
// until its context ends or Stop is called, then drains once. Every later
// Stop returns the first drain's result.
type LifecycleRunner struct {
	state   atomic.Int32
	hooks   Hooks
	drainer Drainer
	timeout time.Duration

	quit     chan struct{}
	quitOnce sync.Once

	drainOnce sync.Once
	drainErr  error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	r := &LifecycleRunner{
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		quit:    make(chan struct{}),
	}
	r.state.Store(int32(StateNew))
	return r
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.transition(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner()
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.transition(StateStarting, StateRunning)
	select {
	case <-ctx.Done():
	case <-r.quit:
	}
	return r.shutdown()
}

// Stop releases Run and drains. It is safe to call before Run and from
// several goroutines.
func (r *LifecycleRunner) Stop() error {
	r.quitOnce.Do(func() { close(r.quit) })
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) shutdown() error {
	r.drainOnce.Do(func() {
		r.state.Store(int32(StateDraining))
		r.drainErr = r.drain()
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.drainErr
}

// drain gives the drainer r.timeout to finish. A drainer that overruns keeps
// running in the background; its result is discarded.
func (r *LifecycleRunner) drain() error {
	if r.drainer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- r.drainer.Drain() }()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ErrDrainTimeout
	}
}

func (r *LifecycleRunner) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}
