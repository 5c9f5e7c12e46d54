package metrics

import (
	"sync"
	"sync/atomic"
)

// AsyncObserver hands events to inner on a single goroutine so the audio and
// oracle paths never wait on disk or log I/O. When the buffer is full the
// event is counted in Dropped and discarded.
type AsyncObserver struct {
	inner   Observer
	events  chan MetricsEvent
	stopped chan struct{}
	dropped atomic.Int64

	// gate orders RecordEvent sends against closing events.
	gate      sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewAsyncObserver(inner Observer, buffer int) *AsyncObserver {
	if inner == nil {
		inner = NoopObserver{}
	}
	if buffer <= 0 {
		buffer = 256
	}
	a := &AsyncObserver{
		inner:   inner,
		events:  make(chan MetricsEvent, buffer),
		stopped: make(chan struct{}),
	}
	go a.deliver()
	return a
}

func (a *AsyncObserver) RecordEvent(ev MetricsEvent) {
	if a == nil {
		return
	}
	a.gate.RLock()
	defer a.gate.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}

func (a *AsyncObserver) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting events and blocks until the buffered ones have been
// delivered. Extra calls wait for the same drain.
func (a *AsyncObserver) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		a.gate.Lock()
		a.closed = true
		close(a.events)
		a.gate.Unlock()
	})
	<-a.stopped
}

func (a *AsyncObserver) deliver() {
	defer close(a.stopped)
	for ev := range a.events {
		a.inner.RecordEvent(ev)
	}
}
