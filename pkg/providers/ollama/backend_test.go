package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/oracle"
)

func TestCompleteSendsJSONGenerateRequest(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(generateResponse{
			Model:    "llama3.1",
			Response: `{"is_scam": true, "scam_score": 90, "safety_score": 10, "risk_level": 92, "reason": "gift card"}`,
			Done:     true,
		})
	}))
	defer srv.Close()

	a := oracle.NewAdapter(New(Config{BaseURL: srv.URL}), oracle.Config{})
	history := []analysis.LogRecord{{Utterance: analysis.Utterance{Text: "I am from your bank"}}}
	v := a.Evaluate(context.Background(), analysis.Utterance{Text: "Please buy a gift card"}, history)

	if v.RiskLevel != 92 || !v.IsScam {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if got.Format != "json" || got.Stream || got.Model != DefaultModel {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(got.Prompt, "- I am from your bank") || !strings.Contains(got.Prompt, "Please buy a gift card") {
		t.Fatalf("prompt missing conversation:\n%s", got.Prompt)
	}
}

func TestNon200BecomesOracleError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := oracle.NewAdapter(New(Config{BaseURL: srv.URL}), oracle.Config{})
	v := a.Evaluate(context.Background(), analysis.Utterance{Text: "hello there"}, nil)
	if v.Reason != "oracle error: 503" || v.RiskLevel != 0 {
		t.Fatalf("unexpected verdict %+v", v)
	}
}

func TestUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := oracle.NewAdapter(New(Config{BaseURL: url}), oracle.Config{})
	v := a.Evaluate(context.Background(), analysis.Utterance{Text: "hello there"}, nil)
	if v.Reason != analysis.ReasonOracleUnreachable {
		t.Fatalf("expected unreachable, got %+v", v)
	}
}

func TestSlowServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := oracle.NewAdapter(New(Config{BaseURL: srv.URL}), oracle.Config{Timeout: 50 * time.Millisecond})
	v := a.Evaluate(context.Background(), analysis.Utterance{Text: "hello there"}, nil)
	if v.Reason != analysis.ReasonOracleTimeout {
		t.Fatalf("expected timeout, got %+v", v)
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Ollama is running"))
	}))
	defer srv.Close()
	if err := New(Config{BaseURL: srv.URL + "/"}).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
