package twilio

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/scamguard/pkg/frames"
	"github.com/harunnryd/scamguard/pkg/metrics"
)

// Media Streams wire messages. Only the fields the monitor reads are mapped.
type TwilioStart struct {
	CallSID  string `json:"callSid"`
	StreamID string `json:"streamSid"`
	From     string `json:"from"`
}

type TwilioMedia struct {
	Track   string `json:"track"`
	Payload string `json:"payload"`
}

type TwilioStop struct {
	Reason string `json:"reason"`
}

type TwilioEvent struct {
	Event string       `json:"event"`
	Start *TwilioStart `json:"start,omitempty"`
	Media *TwilioMedia `json:"media,omitempty"`
	Stop  *TwilioStop  `json:"stop,omitempty"`
}

// call is one attached media stream.
type call struct {
	streamID string
	callSID  string
	traceID  string
	from     string
	conn     *websocket.Conn
}

func (c *call) meta() map[string]string {
	m := map[string]string{frames.MetaStreamID: c.streamID}
	for k, v := range map[string]string{
		frames.MetaCallSID:    c.callSID,
		frames.MetaTraceID:    c.traceID,
		frames.MetaFromNumber: c.from,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// registry indexes live streams by stream SID and by call SID. Twilio may
// open a new stream for a call that already has one; the newer one wins.
type registry struct {
	mu      sync.Mutex
	streams map[string]*call
	byCall  map[string]string
}

func newRegistry() *registry {
	return &registry{streams: make(map[string]*call), byCall: make(map[string]string)}
}

// attach stores c and returns the call it replaced, if any.
func (r *registry) attach(c *call) *call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var replaced *call
	if c.callSID != "" {
		if prev := r.byCall[c.callSID]; prev != "" && prev != c.streamID {
			replaced = r.streams[prev]
			delete(r.streams, prev)
		}
		r.byCall[c.callSID] = c.streamID
	}
	r.streams[c.streamID] = c
	return replaced
}

func (r *registry) detach(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.streams[streamID]
	delete(r.streams, streamID)
	if c != nil && r.byCall[c.callSID] == streamID {
		delete(r.byCall, c.callSID)
	}
}

// meta returns the frame metadata for streamID. Unknown streams still get
// their stream id so late frames stay attributable.
func (r *registry) meta(streamID string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.streams[streamID]; c != nil {
		return c.meta()
	}
	return map[string]string{frames.MetaStreamID: streamID}
}

func (r *registry) streamFor(callSID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byCall[callSID]
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// drain forgets every call and returns their connections.
func (r *registry) drain() []*websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(r.streams))
	for _, c := range r.streams {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	r.streams = make(map[string]*call)
	r.byCall = make(map[string]string)
	return conns
}

// ServeHTTP is the media websocket. It runs for the life of one stream.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var cur *call
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt TwilioEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			cur = &call{
				streamID: evt.Start.StreamID,
				callSID:  evt.Start.CallSID,
				traceID:  uuid.NewString(),
				from:     evt.Start.From,
				conn:     conn,
			}
			t.startCall(cur)
		case "media":
			if evt.Media == nil || cur == nil {
				continue
			}
			if evt.Media.Track != "" && evt.Media.Track != "inbound" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			meta := cur.meta()
			meta[frames.MetaEncoding] = "mulaw"
			meta[frames.MetaCodec] = "ulaw"
			meta[frames.MetaFormat] = "ulaw_8000_1ch_8bit"
			t.emit(frames.NewAudioFrameFromPool(cur.streamID, time.Now().UnixNano(), payload, 8000, 1, meta))
			metrics.Emit(t.observer, metrics.EventAudioIn, float64(len(payload)), map[string]string{"call_sid": cur.callSID}, nil)
		case "stop":
			if cur == nil {
				return
			}
			reason := ""
			if evt.Stop != nil {
				reason = normalizeCallEndReason(evt.Stop.Reason)
			}
			if reason == "" {
				reason = "completed"
			}
			t.endCall(cur.streamID, reason)
			return
		}
	}
	if cur != nil {
		t.endCall(cur.streamID, normalizeCallEndReason("transport_closed"))
	}
}

func (t *Transport) startCall(c *call) {
	replaced := t.calls.attach(c)
	meta := c.meta()
	meta[frames.MetaSource] = "transport"
	t.emit(frames.NewSystemFrame(c.streamID, time.Now().UnixNano(), frames.SystemCallStart, meta))
	metrics.Emit(t.observer, metrics.EventCallStart, 1, map[string]string{"call_sid": c.callSID}, nil)
	t.logger.Info("call_stream_started", "call_sid", c.callSID, "stream_id", c.streamID)
	if replaced == nil {
		return
	}
	if replaced.conn != nil && replaced.conn != c.conn {
		_ = replaced.conn.Close()
	}
	meta[frames.MetaOldStreamID] = replaced.streamID
	t.emit(frames.NewSystemFrame(c.streamID, time.Now().UnixNano(), frames.SystemCallReconnect, meta))
}

func (t *Transport) endCall(streamID, reason string) {
	meta := t.calls.meta(streamID)
	meta[frames.MetaCallEndReason] = reason
	t.emit(frames.NewSystemFrame(streamID, time.Now().UnixNano(), frames.SystemCallEnd, meta))
	metrics.Emit(t.observer, metrics.EventCallEnd, 1, map[string]string{
		"call_sid": meta[frames.MetaCallSID],
		"reason":   reason,
	}, nil)
	t.logger.Info("call_stream_ended", "stream_id", streamID, "reason", reason)
	t.calls.detach(streamID)
}
