package history

import (
	"fmt"
	"sync"
	"testing"

	"github.com/harunnryd/scamguard/pkg/analysis"
)

func record(text string) analysis.LogRecord {
	return analysis.NewLogRecord(analysis.Utterance{Text: text}, analysis.SafeVerdict("ok"))
}

func TestContextCapsAndKeepsChronologicalOrder(t *testing.T) {
	log := New()
	for i := 0; i < 45; i++ {
		log.Append(record(fmt.Sprintf("t%d", i)))
	}
	ctx := log.Context(DefaultContextLimit)
	if len(ctx) != 30 {
		t.Fatalf("expected 30 records, got %d", len(ctx))
	}
	if ctx[0].Utterance.Text != "t15" || ctx[29].Utterance.Text != "t44" {
		t.Fatalf("unexpected window bounds %q..%q", ctx[0].Utterance.Text, ctx[29].Utterance.Text)
	}
	for i := 1; i < len(ctx); i++ {
		if ctx[i].Index <= ctx[i-1].Index {
			t.Fatalf("context not oldest-first at %d", i)
		}
	}
}

func TestContextDefaultLimit(t *testing.T) {
	log := New()
	for i := 0; i < 40; i++ {
		log.Append(record("x"))
	}
	if got := len(log.Context(0)); got != DefaultContextLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultContextLimit, got)
	}
}

func TestRecentFirstIsReverseOfInsertion(t *testing.T) {
	log := New()
	log.Append(record("a"))
	log.Append(record("b"))
	log.Append(record("c"))
	got := log.RecentFirst()
	if len(got) != 3 || got[0].Utterance.Text != "c" || got[2].Utterance.Text != "a" {
		t.Fatalf("unexpected order %+v", Texts(got))
	}
}

func TestViewsAreCopies(t *testing.T) {
	log := New()
	log.Append(record("a"))
	view := log.RecentFirst()
	view[0].Utterance.Text = "mutated"
	if log.Context(1)[0].Utterance.Text != "a" {
		t.Fatalf("view mutation leaked into log")
	}
}

func TestClearEmptiesLog(t *testing.T) {
	log := New()
	log.Append(record("a"))
	log.Clear()
	if log.Len() != 0 || len(log.RecentFirst()) != 0 {
		t.Fatalf("expected empty log after clear")
	}
	rec := log.Append(record("b"))
	if rec.Index != 1 {
		t.Fatalf("expected index numbering to continue, got %d", rec.Index)
	}
}

func TestConcurrentAppendAndClear(t *testing.T) {
	log := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				log.Append(record("x"))
				_ = log.Context(30)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			log.Clear()
		}
	}()
	wg.Wait()
	view := log.RecentFirst()
	for i := 1; i < len(view); i++ {
		if view[i].Index >= view[i-1].Index {
			t.Fatalf("recent-first view out of order at %d", i)
		}
	}
}

func TestFromTextsKeepsNewest(t *testing.T) {
	texts := make([]string, 35)
	for i := range texts {
		texts[i] = fmt.Sprintf("h%d", i)
	}
	got := FromTexts(texts, 30)
	if len(got) != 30 || got[0].Utterance.Text != "h5" {
		t.Fatalf("unexpected window %v", Texts(got))
	}
}
