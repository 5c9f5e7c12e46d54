package runner

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer releases process resources on shutdown: stop the active
// session, close transports, flush observers.
type Drainer interface {
	Drain() error
}

// DrainerFunc adapts a function to Drainer.
type DrainerFunc func() error

func (f DrainerFunc) Drain() error { return f() }

// Version is overridden at build time with -ldflags.
var Version = "dev"

// BannerOutput is where PrintBanner writes. Tests set it to io.Discard.
var BannerOutput io.Writer = os.Stdout

func PrintBanner() {
	tpl := "{{ .Title \"SCAMGUARD\" \"\" 0 }}\nLive call scam detection  Version: " + Version + "\n"
	banner.Init(BannerOutput, true, true, bytes.NewBufferString(tpl))
}
