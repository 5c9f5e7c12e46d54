package mock

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/scamguard/pkg/frames"
)

func TestPushCallQueuesLifecycle(t *testing.T) {
	tr := New()
	if !tr.PushCall("MZ1", []byte{0xFF}, []byte{0x7F}) {
		t.Fatalf("push call dropped frames")
	}
	_ = tr.Stop()

	var names []string
	var audio int
	for f := range tr.Recv() {
		switch v := f.(type) {
		case frames.SystemFrame:
			names = append(names, v.Name())
			if v.StreamID() != "MZ1" {
				t.Fatalf("unexpected stream id %q", v.StreamID())
			}
		case frames.AudioFrame:
			audio++
		}
	}
	if audio != 2 || len(names) != 2 || names[0] != frames.SystemCallStart || names[1] != frames.SystemCallEnd {
		t.Fatalf("unexpected frames: audio=%d system=%v", audio, names)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	select {
	case _, ok := <-tr.Recv():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("transport not stopped after cancel")
	}
	if tr.Push(frames.NewSystemFrame("MZ1", 1, frames.SystemCallStart, nil)) {
		t.Fatalf("push after stop must fail")
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
