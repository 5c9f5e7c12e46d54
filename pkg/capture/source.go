package capture

import (
	"context"
	"errors"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
)

// Source is a speech recognizer seen from the capture loop. Next blocks
// until the next utterance is recognized or ctx ends.
//
// Next reports ErrNoSpeech when an interval passed without speech and
// ErrRecognizerUnavailable when the recognizer could not be reached for the
// interval. Both are transient. io.EOF ends the loop cleanly; any other
// error is fatal to the loop.
type Source interface {
	Name() string
	Next(ctx context.Context) (string, error)
}

// Lifecycle is implemented by sources that hold a connection for the
// duration of a listening session.
type Lifecycle interface {
	Start(ctx context.Context) error
	Close() error
}

var (
	ErrNoSpeech              = errorsx.New(errorsx.ReasonCaptureNoSpeech, "no speech detected")
	ErrRecognizerUnavailable = errorsx.New(errorsx.ReasonCaptureUnavailable, "speech recognizer unreachable")
)

// IsTransient reports whether err only affects the current interval.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrRecognizerUnavailable)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(text string) analysis.Utterance

func (f SinkFunc) Enqueue(text string) analysis.Utterance { return f(text) }
