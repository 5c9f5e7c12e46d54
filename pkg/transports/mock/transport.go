// Package mock is an in-process transport. Tests and local runs push frames
// into it directly instead of receiving them from a telephony provider.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/scamguard/pkg/frames"
	"github.com/harunnryd/scamguard/pkg/transports"
)

type Transport struct {
	mu     sync.RWMutex
	recvCh chan frames.Frame
	closed bool
}

func New() *Transport {
	return &Transport{recvCh: make(chan frames.Frame, 256)}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Start stops the transport when ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	context.AfterFunc(ctx, func() { _ = t.Stop() })
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recvCh)
	}
	return nil
}

// Push queues f for Recv. It reports false when the transport is stopped
// or the buffer is full.
func (t *Transport) Push(f frames.Frame) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return false
	}
	select {
	case t.recvCh <- f:
		return true
	default:
		return false
	}
}

// PushCall queues a whole call on streamID: call start, one 8kHz mu-law
// frame per chunk, then call end.
func (t *Transport) PushCall(streamID string, chunks ...[]byte) bool {
	meta := map[string]string{frames.MetaStreamID: streamID, frames.MetaSource: "mock"}
	if !t.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallStart, meta)) {
		return false
	}
	for _, c := range chunks {
		if !t.Push(frames.NewAudioFrame(streamID, time.Now().UnixNano(), c, 8000, 1, meta)) {
			return false
		}
	}
	meta[frames.MetaCallEndReason] = "completed"
	return t.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, meta))
}

var _ transports.Transport = (*Transport)(nil)
