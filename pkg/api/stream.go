package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/scamguard/pkg/transports"
)

const writeWait = 5 * time.Second

// broadcaster wakes every waiter at once by closing the current channel.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) signal() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}

// handleStatusStream pushes the session status over a websocket on every
// state change and at least once per StatusInterval. Identical consecutive
// snapshots are not resent.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return transports.OriginAllowed(origin, s.cfg.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("status_stream_upgrade_failed", "error", err.Error())
		return
	}
	defer conn.Close()

	// Reader detects the client going away; inbound messages are ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	var last []byte
	for {
		changed := s.notify.wait()
		payload, err := json.Marshal(s.ctrl.Status())
		if err != nil {
			s.log.Error("status_stream_encode_failed", "error", err.Error())
			return
		}
		if string(payload) != string(last) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("status_stream_closed", "error", err.Error())
				return
			}
			last = payload
		}
		select {
		case <-ticker.C:
		case <-changed:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
