package utterance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scamguard/pkg/analysis"
)

// DropFunc observes an utterance evicted from a bounded queue.
type DropFunc func(dropped analysis.Utterance)

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Enqueued int64
	Drained  int64
	Dropped  int64
	Pending  int
}

// Queue is a FIFO mailbox between the capture loop and the analysis step.
// With capacity 0 it is unbounded and never drops. A bounded queue evicts the
// oldest pending utterance to make room and reports it through the drop hook.
type Queue struct {
	mu       sync.Mutex
	items    []analysis.Utterance
	capacity int
	onDrop   DropFunc
	seq      uint64
	ready    chan struct{}

	enqueued int64
	drained  int64
	dropped  int64
}

func New() *Queue {
	return NewBounded(0, nil)
}

func NewBounded(capacity int, onDrop DropFunc) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		capacity: capacity,
		onDrop:   onDrop,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue assigns the next sequence number and appends text. It never blocks
// on a consumer.
func (q *Queue) Enqueue(text string) analysis.Utterance {
	q.mu.Lock()
	q.seq++
	u := analysis.Utterance{Text: text, Seq: q.seq, ReceivedAt: time.Now()}
	var evicted *analysis.Utterance
	if q.capacity > 0 && len(q.items) >= q.capacity {
		old := q.items[0]
		evicted = &old
		q.items = q.items[1:]
	}
	q.items = append(q.items, u)
	q.mu.Unlock()

	atomic.AddInt64(&q.enqueued, 1)
	if evicted != nil {
		atomic.AddInt64(&q.dropped, 1)
		if q.onDrop != nil {
			q.onDrop(*evicted)
		}
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return u
}

// Stamp assigns the next sequence number to text without queueing it, for
// utterances analyzed on the request path.
func (q *Queue) Stamp(text string) analysis.Utterance {
	q.mu.Lock()
	q.seq++
	u := analysis.Utterance{Text: text, Seq: q.seq, ReceivedAt: time.Now()}
	q.mu.Unlock()
	return u
}

// DrainAll removes and returns every pending utterance in FIFO order.
func (q *Queue) DrainAll() []analysis.Utterance {
	q.mu.Lock()
	out := q.items
	q.items = nil
	q.mu.Unlock()
	atomic.AddInt64(&q.drained, int64(len(out)))
	return out
}

// Wait blocks until at least one utterance is pending or ctx ends.
func (q *Queue) Wait(ctx context.Context) bool {
	for {
		if q.Len() > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-q.ready:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued: atomic.LoadInt64(&q.enqueued),
		Drained:  atomic.LoadInt64(&q.drained),
		Dropped:  atomic.LoadInt64(&q.dropped),
		Pending:  q.Len(),
	}
}
