package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
	"github.com/harunnryd/scamguard/pkg/logging"
	"github.com/harunnryd/scamguard/pkg/redact"
)

const DefaultPollInterval = 500 * time.Millisecond

// MaxPollInterval bounds how long a single Next call may block, so a stop
// request is noticed within that time even if the source ignores ctx.
const MaxPollInterval = time.Second

// Sink receives recognized text. The session's utterance queue satisfies it.
type Sink interface {
	Enqueue(text string) analysis.Utterance
}

type Options struct {
	// PollInterval bounds each Next call. Values above MaxPollInterval are capped.
	PollInterval time.Duration
	Logger       *slog.Logger
	RedactPII    bool
	// OnUnavailable is called each time the recognizer reports it is unreachable.
	OnUnavailable func()
}

// Run pulls utterances from src into sink until ctx is cancelled or the
// source ends. It returns nil on a clean exit and an error tagged
// capture_fatal when the loop died. Transient source errors never end it.
func Run(ctx context.Context, src Source, sink Sink, opts Options) (err error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollInterval > MaxPollInterval {
		opts.PollInterval = MaxPollInterval
	}
	log := logging.NewComponentLogger(opts.Logger, "capture").With("source", src.Name())

	defer func() {
		if r := recover(); r != nil {
			err = errorsx.Wrap(fmt.Errorf("capture source panic: %v", r), errorsx.ReasonCaptureFatal)
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		pollCtx, cancel := context.WithTimeout(ctx, opts.PollInterval)
		text, nextErr := src.Next(pollCtx)
		cancel()

		switch {
		case nextErr == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(nextErr, io.EOF):
			log.Info("capture_source_ended")
			return nil
		case errors.Is(nextErr, context.DeadlineExceeded), errors.Is(nextErr, ErrNoSpeech):
			continue
		case errors.Is(nextErr, ErrRecognizerUnavailable):
			log.Warn("capture_recognizer_unreachable", "error", nextErr.Error())
			sink.Enqueue(analysis.RecognizerUnreachableMarker)
			if opts.OnUnavailable != nil {
				opts.OnUnavailable()
			}
			continue
		default:
			return errorsx.Wrap(fmt.Errorf("capture source %s: %w", src.Name(), nextErr), errorsx.ReasonCaptureFatal)
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		// A stop that raced the recognizer wins; the text is dropped.
		if ctx.Err() != nil {
			return nil
		}
		u := sink.Enqueue(text)
		logged := text
		if opts.RedactPII {
			logged = redact.Text(text)
		}
		log.Debug("capture_utterance", "seq", u.Seq, "text", logged)
	}
}
