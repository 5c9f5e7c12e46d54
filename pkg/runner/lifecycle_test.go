package runner

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	BannerOutput = io.Discard
}

func TestRunDrainsOnContextCancel(t *testing.T) {
	var drained, started, stopped atomic.Int32
	r := NewLifecycleRunner(DrainerFunc(func() error {
		drained.Add(1)
		return nil
	}), Hooks{
		OnStart: func() { started.Add(1) },
		OnStop:  func() { stopped.Add(1) },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running, state %s", r.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop after run: %v", err)
	}
	if drained.Load() != 1 || started.Load() != 1 || stopped.Load() != 1 {
		t.Fatalf("expected one drain/start/stop, got %d/%d/%d", drained.Load(), started.Load(), stopped.Load())
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected rerun to fail, got %v", err)
	}
}

func TestStopReportsDrainTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	r := NewLifecycleRunner(DrainerFunc(func() error {
		<-block
		return nil
	}), Hooks{}, 20*time.Millisecond)
	if err := r.Stop(); !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestStopReturnsDrainError(t *testing.T) {
	boom := errors.New("close failed")
	r := NewLifecycleRunner(DrainerFunc(func() error { return boom }), Hooks{}, time.Second)
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected drain error, got %v", err)
	}
}
