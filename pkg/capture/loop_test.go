package capture

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
)

type result struct {
	text  string
	err   error
	panic bool
}

type stubSource struct {
	mu      sync.Mutex
	results []result
	block   bool
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	if len(s.results) == 0 {
		s.mu.Unlock()
		if s.block {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "", io.EOF
	}
	r := s.results[0]
	s.results = s.results[1:]
	s.mu.Unlock()
	if r.panic {
		panic("boom")
	}
	return r.text, r.err
}

type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) Enqueue(text string) analysis.Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return analysis.Utterance{Text: text, Seq: uint64(len(s.texts))}
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func TestRunSkipsTransientErrors(t *testing.T) {
	src := &stubSource{results: []result{
		{text: "hello"},
		{err: ErrNoSpeech},
		{text: "   "},
		{err: ErrRecognizerUnavailable},
		{text: "bye"},
	}}
	sink := &recordingSink{}
	unavailable := 0
	err := Run(context.Background(), src, sink, Options{OnUnavailable: func() { unavailable++ }})
	if err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	got := sink.all()
	want := []string{"hello", analysis.RecognizerUnreachableMarker, "bye"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected utterances %v", got)
	}
	if unavailable != 1 {
		t.Fatalf("expected one unavailable callback, got %d", unavailable)
	}
}

func TestRunFatalError(t *testing.T) {
	src := &stubSource{results: []result{{err: errors.New("device gone")}}}
	err := Run(context.Background(), src, &recordingSink{}, Options{})
	if !errorsx.HasReason(err, errorsx.ReasonCaptureFatal) {
		t.Fatalf("expected capture_fatal, got %v", err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	src := &stubSource{results: []result{{panic: true}}}
	err := Run(context.Background(), src, &recordingSink{}, Options{})
	if !errorsx.HasReason(err, errorsx.ReasonCaptureFatal) {
		t.Fatalf("expected panic to become capture_fatal, got %v", err)
	}
}

func TestRunStopsOnCancelWhileBlocked(t *testing.T) {
	src := &stubSource{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, src, &recordingSink{}, Options{PollInterval: 50 * time.Millisecond}) }()
	time.Sleep(120 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}
}

func TestLineSource(t *testing.T) {
	src := NewLineSource("", strings.NewReader("first\n\nsecond\n"))
	defer src.Close()
	sink := &recordingSink{}
	if err := Run(context.Background(), src, sink, Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sink.all(); len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected lines %v", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(ErrNoSpeech) || !IsTransient(ErrRecognizerUnavailable) {
		t.Fatalf("expected sentinels to be transient")
	}
	if IsTransient(io.EOF) {
		t.Fatalf("EOF is not transient")
	}
}
