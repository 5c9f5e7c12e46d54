// Package frames carries call audio and call lifecycle events from a
// transport to the speech recogniser.
package frames

import "sync"

type Kind string

const (
	KindAudio  Kind = "audio"
	KindSystem Kind = "system"
)

// System frame names emitted by call transports.
const (
	SystemCallStart     = "call_start"
	SystemCallReconnect = "call_reconnect"
	SystemCallEnd       = "call_end"
)

type Frame interface {
	Kind() Kind
	PTS() int64
	Meta() map[string]string
}

// header is the part every frame shares. Meta is copied on the way in and
// on the way out so a frame is safe to hand across goroutines.
type header struct {
	pts  int64
	meta map[string]string
}

func newHeader(streamID string, pts int64, meta map[string]string) header {
	h := header{pts: pts, meta: make(map[string]string, len(meta)+1)}
	for k, v := range meta {
		h.meta[k] = v
	}
	if streamID != "" {
		h.meta[MetaStreamID] = streamID
	}
	return h
}

func (h header) PTS() int64 { return h.pts }

func (h header) Meta() map[string]string {
	out := make(map[string]string, len(h.meta))
	for k, v := range h.meta {
		out[k] = v
	}
	return out
}

func (h header) StreamID() string { return h.meta[MetaStreamID] }

// AudioFrame is one chunk of inbound call audio.
type AudioFrame struct {
	header
	data   []byte
	rate   int
	ch     int
	pooled bool
}

func NewAudioFrame(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{header: newHeader(streamID, pts, meta), data: data, rate: rate, ch: ch}
}

// NewAudioFrameFromPool copies data into a pooled buffer. The consumer
// returns it with ReleaseAudioFrame once the payload has been written out.
func NewAudioFrameFromPool(streamID string, pts int64, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := audioBufs.get(len(data))
	copy(buf, data)
	f := NewAudioFrame(streamID, pts, buf, rate, ch, meta)
	f.pooled = true
	return f
}

func (a AudioFrame) Kind() Kind { return KindAudio }

// RawPayload returns the frame's buffer without copying. It is invalid after
// ReleaseAudioFrame.
func (a AudioFrame) RawPayload() []byte { return a.data }
func (a AudioFrame) Rate() int          { return a.rate }
func (a AudioFrame) Channels() int      { return a.ch }

// ReleaseAudioFrame returns a pooled audio buffer. It reports false for any
// other frame.
func ReleaseAudioFrame(f Frame) bool {
	var af AudioFrame
	switch v := f.(type) {
	case AudioFrame:
		af = v
	case *AudioFrame:
		af = *v
	default:
		return false
	}
	if !af.pooled {
		return false
	}
	audioBufs.put(af.data)
	return true
}

// SystemFrame marks a call lifecycle event such as SystemCallStart.
type SystemFrame struct {
	header
	name string
}

func NewSystemFrame(streamID string, pts int64, name string, meta map[string]string) SystemFrame {
	return SystemFrame{header: newHeader(streamID, pts, meta), name: name}
}

func (s SystemFrame) Kind() Kind   { return KindSystem }
func (s SystemFrame) Name() string { return s.name }

type bufPool struct{ p sync.Pool }

// Twilio sends 160 byte chunks; 4KiB covers any sane transport frame.
var audioBufs = &bufPool{p: sync.Pool{New: func() any { return make([]byte, 0, 4096) }}}

func (b *bufPool) get(size int) []byte {
	buf := b.p.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func (b *bufPool) put(buf []byte) {
	b.p.Put(buf[:0])
}
