package twilio

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/harunnryd/scamguard/pkg/errorsx"
	twilioclient "github.com/twilio/twilio-go/client"
)

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Say     string       `xml:"Say,omitempty"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

// handleVoice answers the incoming-call webhook with TwiML that forks the
// caller's audio to the media websocket.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	if !t.authorized(r) {
		t.logger.Warn("twilio_invalid_signature", "path", r.URL.Path, "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	body, err := xml.Marshal(twimlResponse{
		Say:     strings.TrimSpace(t.cfg.VoiceGreeting),
		Connect: twimlConnect{Stream: twimlStream{URL: t.websocketURL(r)}},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = io.WriteString(w, xml.Header)
	_, _ = w.Write(body)
}

// handleStatusCallback ends the matching stream when Twilio reports a
// terminal call status. Twilio always gets a 200 so it does not retry.
func (t *Transport) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if !t.authorized(r) {
		t.logger.Warn("twilio_invalid_signature", "path", r.URL.Path, "reason_code", string(errorsx.ReasonTransportInvalidSignature))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	defer w.WriteHeader(http.StatusOK)
	if err := r.ParseForm(); err != nil {
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if reason == "" || callSID == "" {
		return
	}
	if streamID := t.calls.streamFor(callSID); streamID != "" {
		t.endCall(streamID, reason)
	}
}

// authorized checks the X-Twilio-Signature header. Without an auth token
// validation is off and every request passes.
func (t *Transport) authorized(r *http.Request) bool {
	if t.cfg.AuthToken == "" {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	validator := twilioclient.NewRequestValidator(t.cfg.AuthToken)
	return validator.ValidateBody(t.requestURL(r), body, signature)
}

// requestURL rebuilds the URL Twilio signed, which is the public one when
// the server sits behind a tunnel or proxy.
func (t *Transport) requestURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return strings.TrimRight(t.cfg.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = r.Header.Get("X-Forwarded-Proto")
	}
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + t.host(r) + r.URL.RequestURI()
}

func (t *Transport) websocketURL(r *http.Request) string {
	if t.cfg.PublicURL != "" {
		return "wss://" + publicHost(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	return "wss://" + t.host(r) + t.cfg.WebsocketPath
}

func (t *Transport) webhookURL(path string) string {
	if t.cfg.PublicURL != "" {
		return "https://" + publicHost(t.cfg.PublicURL) + path
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

func (t *Transport) host(r *http.Request) string {
	if r.Host != "" {
		return r.Host
	}
	return strings.TrimPrefix(t.cfg.ServerAddr, ":")
}

func publicHost(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

// normalizeCallEndReason maps Twilio call statuses and stream stop reasons
// onto call_end reasons. Non-terminal statuses map to "".
func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "call_ended", "call-ended", "completed_by_user", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled", "transport_closed":
		return "failed"
	default:
		return "unknown"
	}
}
