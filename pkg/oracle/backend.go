package oracle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/harunnryd/scamguard/pkg/errorsx"
)

// Request is one risk-assessment call. Prompt carries the history window and
// the newest phrase; System carries the fixed instructions.
type Request struct {
	System  string
	Prompt  string
	History []string
	Text    string
}

// Combined joins instructions and prompt for single-prompt backends.
func (r Request) Combined() string {
	return r.System + "\n\n" + r.Prompt
}

// Backend is the transport to a risk-assessment model. Complete returns the
// raw model output, expected to contain a JSON verdict object.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusError reports a non-2xx response from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Backend, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Backend, e.Code, e.Body)
}

// NewHTTPClient returns a pooled client without an overall timeout; callers
// bound each request with a context deadline.
func NewHTTPClient(poolSize int) *http.Client {
	if poolSize <= 0 {
		poolSize = 4
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        poolSize,
			MaxIdleConnsPerHost: poolSize,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2: true,
		},
	}
}

// Classify maps a backend error onto its reason code.
func Classify(err error) errorsx.ReasonCode {
	if err == nil {
		return errorsx.ReasonUnknown
	}
	var se *StatusError
	if errors.As(err, &se) {
		return errorsx.ReasonOracleStatus
	}
	switch errorsx.Reason(err) {
	case errorsx.ReasonOracleDecode, errorsx.ReasonOracleCircuitOpen:
		return errorsx.Reason(err)
	}
	if isTimeout(err) {
		return errorsx.ReasonOracleTimeout
	}
	return errorsx.ReasonOracleUnreachable
}

// Trips reports whether err indicates the backend itself is unhealthy.
// Malformed output does not count.
func Trips(err error) bool {
	switch Classify(err) {
	case errorsx.ReasonOracleUnreachable, errorsx.ReasonOracleTimeout:
		return true
	case errorsx.ReasonOracleStatus:
		var se *StatusError
		if errors.As(err, &se) {
			return se.Code == http.StatusTooManyRequests || se.Code >= 500
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errorsx.HasReason(err, errorsx.ReasonOracleTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
