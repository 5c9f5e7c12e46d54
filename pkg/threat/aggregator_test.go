package threat

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/harunnryd/scamguard/pkg/analysis"
)

func verdict(risk float64) analysis.Verdict {
	v := analysis.SafeVerdict("test")
	v.RiskLevel = risk
	return v
}

func TestLastWriteWins(t *testing.T) {
	agg := New(PolicyLastWrite)
	for _, r := range []float64{10, 95, 40, 70, 5} {
		agg.Update(verdict(r))
	}
	if agg.Current() != 5 {
		t.Fatalf("expected last risk 5, got %v", agg.Current())
	}
}

func TestLastWriteLowersThreat(t *testing.T) {
	agg := New("")
	agg.Update(verdict(90))
	if got := agg.Update(analysis.SafeVerdict(analysis.ReasonOracleUnreachable)); got != 0 {
		t.Fatalf("expected failure verdict to reset threat to 0, got %v", got)
	}
}

func TestRunningMaxKeepsPeak(t *testing.T) {
	agg := New(PolicyRunningMax)
	agg.Update(verdict(30))
	agg.Update(verdict(85))
	agg.Update(verdict(10))
	if agg.Current() != 85 {
		t.Fatalf("expected peak 85, got %v", agg.Current())
	}
}

func TestUpdateClampsRisk(t *testing.T) {
	agg := New(PolicyLastWrite)
	if got := agg.Update(verdict(250)); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
	if got := agg.Update(verdict(-3)); got != 0 {
		t.Fatalf("expected clamp to 0, got %v", got)
	}
}

func TestUpdateIgnoresNonFiniteRisk(t *testing.T) {
	for _, policy := range []Policy{PolicyLastWrite, PolicyRunningMax} {
		agg := New(policy)
		agg.Update(verdict(40))
		for _, risk := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			got := agg.Update(verdict(risk))
			if math.IsNaN(got) || got < 0 || got > 100 {
				t.Fatalf("%s: threat left [0,100] for %v: %v", policy, risk, got)
			}
		}
		if _, err := json.Marshal(map[string]float64{"threat_level": agg.Current()}); err != nil {
			t.Fatalf("%s: threat level not encodable: %v", policy, err)
		}
	}
}

func TestReset(t *testing.T) {
	agg := New(PolicyRunningMax)
	agg.Update(verdict(60))
	agg.Reset()
	if agg.Current() != 0 {
		t.Fatalf("expected 0 after reset, got %v", agg.Current())
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(" Running_Max "); err != nil || p != PolicyRunningMax {
		t.Fatalf("expected running_max, got %q %v", p, err)
	}
	if _, err := ParsePolicy("average"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
