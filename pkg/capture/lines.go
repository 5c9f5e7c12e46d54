package capture

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// LineSource recognizes one utterance per input line. It stands in for a
// speech recognizer when running against stdin or a transcript file.
type LineSource struct {
	name  string
	lines chan string
	done  chan struct{}
	once  sync.Once
	err   error
}

// NewLineSource starts reading r in the background. Reading stops at EOF.
func NewLineSource(name string, r io.Reader) *LineSource {
	if name == "" {
		name = "lines"
	}
	s := &LineSource{
		name:  name,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go s.read(r)
	return s
}

func (s *LineSource) read(r io.Reader) {
	defer close(s.lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		select {
		case s.lines <- sc.Text():
		case <-s.done:
			return
		}
	}
	s.err = sc.Err()
}

func (s *LineSource) Name() string { return s.name }

// Next returns the next line, io.EOF once input is exhausted, or
// ErrNoSpeech when ctx ends first.
func (s *LineSource) Next(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			if s.err != nil {
				return "", s.err
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ErrNoSpeech
	}
}

// Close stops the background reader.
func (s *LineSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
