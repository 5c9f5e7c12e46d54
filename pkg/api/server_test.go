package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/capture"
	"github.com/harunnryd/scamguard/pkg/observers"
	"github.com/harunnryd/scamguard/pkg/oracle"
	"github.com/harunnryd/scamguard/pkg/providers/mock"
	"github.com/harunnryd/scamguard/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestServer(t *testing.T, backend oracle.Backend, src capture.Source, scfg session.Config, cfg Config) (*Server, *session.Controller) {
	t.Helper()
	ctrl := session.New(oracle.NewAdapter(backend, oracle.Config{}), src, scfg)
	t.Cleanup(func() { _ = ctrl.Stop() })
	return NewServer(ctrl, cfg), ctrl
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})
	rec := do(t, srv, http.MethodGet, "/", "")
	var body map[string]string
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["app"] != AppName {
		t.Fatalf("unexpected health response %d %v", rec.Code, body)
	}
}

func TestAnalyzeUpdatesStatusAndTranscript(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})

	rec := do(t, srv, http.MethodPost, "/analyze", `{"text": "Please buy a gift card and verify your account"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status %d: %s", rec.Code, rec.Body.String())
	}
	var res analyzeResponse
	decode(t, rec, &res)
	if !res.Verdict.IsScam || res.Severity != analysis.SeverityHigh || res.ThreatBand != analysis.BandDanger {
		t.Fatalf("expected high risk verdict, got %+v", res)
	}

	var st session.Status
	decode(t, do(t, srv, http.MethodGet, "/status", ""), &st)
	if st.ThreatLevel != res.Verdict.RiskLevel || st.IsListening {
		t.Fatalf("unexpected status %+v", st)
	}

	var entries []transcriptEntry
	decode(t, do(t, srv, http.MethodGet, "/transcript", ""), &entries)
	if len(entries) != 1 || entries[0].Severity != analysis.SeverityHigh || entries[0].Utterance.Text == "" {
		t.Fatalf("unexpected transcript %+v", entries)
	}
}

func TestAnalyzeWithSuppliedHistory(t *testing.T) {
	backend := mock.NewBackend()
	srv, _ := newTestServer(t, backend, nil, session.Config{}, Config{})
	rec := do(t, srv, http.MethodPost, "/analyze", `{"text": "okay then", "history": ["this is the IRS"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status %d", rec.Code)
	}
	reqs := backend.Requests()
	if len(reqs) != 1 || len(reqs[0].History) != 1 || reqs[0].History[0] != "this is the IRS" {
		t.Fatalf("history not forwarded: %+v", reqs)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})
	if rec := do(t, srv, http.MethodPost, "/analyze", `{"text": `); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/analyze", `{"text": "   "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	src := mock.NewSource()
	src.Hold = true
	srv, ctrl := newTestServer(t, mock.NewHeuristic(), src, session.Config{PollInterval: 20 * time.Millisecond}, Config{})

	var body map[string]any
	rec := do(t, srv, http.MethodPost, "/start", "")
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["is_listening"] != true {
		t.Fatalf("unexpected start response %d %v", rec.Code, body)
	}
	if ctrl.State() != session.StateListening {
		t.Fatalf("expected listening")
	}

	rec = do(t, srv, http.MethodPost, "/stop", "")
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["is_listening"] != false {
		t.Fatalf("unexpected stop response %d %v", rec.Code, body)
	}
	if rec := do(t, srv, http.MethodPost, "/stop", ""); rec.Code != http.StatusOK {
		t.Fatalf("second stop should be a no-op, got %d", rec.Code)
	}
}

func TestStartWithoutCaptureSource(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})
	if rec := do(t, srv, http.MethodPost, "/start", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestClear(t *testing.T) {
	srv, ctrl := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})
	do(t, srv, http.MethodPost, "/analyze", `{"text": "send a wire transfer now"}`)
	if rec := do(t, srv, http.MethodPost, "/clear", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear status %d", rec.Code)
	}
	if len(ctrl.Transcript()) != 0 || ctrl.Status().ThreatLevel != 0 {
		t.Fatalf("expected empty session after clear")
	}
}

func TestSubmitQueuesForPollMode(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{Mode: session.ModePoll}, Config{})
	rec := do(t, srv, http.MethodPost, "/utterances", `{"text": "your bank account is suspended"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var u analysis.Utterance
	decode(t, rec, &u)
	if u.Seq == 0 {
		t.Fatalf("expected sequence number assigned")
	}

	var st session.Status
	decode(t, do(t, srv, http.MethodGet, "/status", ""), &st)
	if st.Records != 1 || st.Pending != 0 || st.ThreatLevel == 0 {
		t.Fatalf("expected status read to drain queue, got %+v", st)
	}
}

func TestOracleHealth(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{})
	if rec := do(t, srv, http.MethodGet, "/oracle/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down, _ := newTestServer(t, nil, nil, session.Config{}, Config{})
	rec := do(t, down, http.MethodGet, "/oracle/health", "")
	var body map[string]string
	decode(t, rec, &body)
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "unreachable" {
		t.Fatalf("expected 503 unreachable, got %d %v", rec.Code, body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{}, Config{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/start", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("unexpected preflight response %d %v", rec.Code, rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin received CORS headers")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := observers.NewPrometheusObserver(reg)
	srv, _ := newTestServer(t, mock.NewHeuristic(), nil, session.Config{Observer: obs}, Config{Gatherer: reg})
	do(t, srv, http.MethodPost, "/analyze", `{"text": "hello there"}`)

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("scamguard_oracle_calls_total")) {
		t.Fatalf("expected oracle call series in metrics output")
	}
}

func TestStatusStreamPushesStateChanges(t *testing.T) {
	src := mock.NewSource()
	src.Hold = true
	srv, ctrl := newTestServer(t, mock.NewHeuristic(), src, session.Config{PollInterval: 20 * time.Millisecond}, Config{StatusInterval: time.Hour})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var st session.Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if st.IsListening {
		t.Fatalf("expected idle initial status")
	}

	if err := ctrl.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read pushed status: %v", err)
	}
	if !st.IsListening || st.State != session.StateListening {
		t.Fatalf("expected listening push, got %+v", st)
	}
}
