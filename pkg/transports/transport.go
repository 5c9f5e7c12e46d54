package transports

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/harunnryd/scamguard/pkg/frames"
)

// Transport is an inbound call-audio boundary. Implementations own their
// network lifecycle and deliver audio and call events on Recv.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
}

// RouteMounter is implemented by transports that receive webhooks or
// websocket upgrades on the shared HTTP router.
type RouteMounter interface {
	Mount(r chi.Router)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
