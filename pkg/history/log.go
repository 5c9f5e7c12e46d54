package history

import (
	"sync"

	"github.com/google/uuid"
	"github.com/harunnryd/scamguard/pkg/analysis"
)

// DefaultContextLimit caps the window handed to the oracle.
const DefaultContextLimit = 30

// Log is the append-only record of analyzed utterances. Both orderings are
// read views over the same slice.
type Log struct {
	mu      sync.RWMutex
	records []analysis.LogRecord
	next    int
}

func New() *Log {
	return &Log{}
}

// Append stores rec and returns it with its insertion index assigned.
func (l *Log) Append(rec analysis.LogRecord) analysis.LogRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	l.mu.Lock()
	rec.Index = l.next
	l.next++
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return rec
}

// Context returns up to limit most recent records, oldest first.
// A non-positive limit uses DefaultContextLimit.
func (l *Log) Context(limit int) []analysis.LogRecord {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	start := len(l.records) - limit
	if start < 0 {
		start = 0
	}
	out := make([]analysis.LogRecord, len(l.records)-start)
	copy(out, l.records[start:])
	return out
}

// RecentFirst returns the whole log newest first.
func (l *Log) RecentFirst() []analysis.LogRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]analysis.LogRecord, len(l.records))
	for i, rec := range l.records {
		out[len(l.records)-1-i] = rec
	}
	return out
}

// Clear empties the log. Index numbering continues from where it was.
func (l *Log) Clear() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Texts extracts the utterance text of each record in order.
func Texts(records []analysis.LogRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Utterance.Text)
	}
	return out
}

// FromTexts builds throwaway records for callers that supply history as plain text.
func FromTexts(texts []string, limit int) []analysis.LogRecord {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	if len(texts) > limit {
		texts = texts[len(texts)-limit:]
	}
	out := make([]analysis.LogRecord, 0, len(texts))
	for i, text := range texts {
		out = append(out, analysis.LogRecord{
			Index:     i,
			Utterance: analysis.Utterance{Text: text, Seq: uint64(i + 1)},
		})
	}
	return out
}
