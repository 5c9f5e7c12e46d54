package mock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/scamguard/pkg/capture"
)

// Step is one scripted recognizer result.
type Step struct {
	Text  string
	Err   error
	Delay time.Duration
	Panic bool
}

// Source is a scripted capture source. After the script runs out it either
// reports io.EOF or, with Hold set, keeps reporting silence until stopped.
type Source struct {
	Steps []Step
	Hold  bool
	// StartErr is returned from Start.
	StartErr error

	mu      sync.Mutex
	pos     int
	started atomic.Int32
	active  atomic.Int32
}

func NewSource(texts ...string) *Source {
	s := &Source{}
	for _, t := range texts {
		s.Steps = append(s.Steps, Step{Text: t})
	}
	return s
}

func (s *Source) Name() string { return "mock_capture" }

func (s *Source) Start(ctx context.Context) error {
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started.Add(1)
	s.active.Add(1)
	return nil
}

func (s *Source) Close() error {
	s.active.Add(-1)
	return nil
}

func (s *Source) Next(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.pos >= len(s.Steps) {
		s.mu.Unlock()
		if !s.Hold {
			return "", io.EOF
		}
		<-ctx.Done()
		return "", capture.ErrNoSpeech
	}
	step := s.Steps[s.pos]
	s.pos++
	s.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return "", capture.ErrNoSpeech
		}
	}
	if step.Panic {
		panic("scripted recognizer crash")
	}
	return step.Text, step.Err
}

// Starts reports how many times Start succeeded.
func (s *Source) Starts() int { return int(s.started.Load()) }

// Active reports how many started sessions have not been closed.
func (s *Source) Active() int { return int(s.active.Load()) }

var (
	_ capture.Source    = (*Source)(nil)
	_ capture.Lifecycle = (*Source)(nil)
)
