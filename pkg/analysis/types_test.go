package analysis

import (
	"math"
	"testing"
)

func TestSeverity(t *testing.T) {
	cases := []struct {
		v    Verdict
		want Severity
	}{
		{Verdict{ScamScore: 10}, SeveritySafe},
		{Verdict{ScamScore: 30}, SeveritySafe},
		{Verdict{ScamScore: 45}, SeveritySuspicious},
		{Verdict{ScamScore: 61}, SeverityHigh},
		{Verdict{IsScam: true, ScamScore: 5}, SeverityHigh},
	}
	for _, c := range cases {
		if got := c.v.Severity(); got != c.want {
			t.Fatalf("severity(%+v) = %s, want %s", c.v, got, c.want)
		}
	}
}

func TestBandFor(t *testing.T) {
	cases := map[float64]ThreatBand{0: BandSafe, 19.9: BandSafe, 20: BandCaution, 59: BandCaution, 60: BandDanger, 100: BandDanger}
	for level, want := range cases {
		if got := BandFor(level); got != want {
			t.Fatalf("band(%v) = %s, want %s", level, got, want)
		}
	}
}

func TestDiagnosticRecordIsSafe(t *testing.T) {
	rec := NewDiagnosticRecord(RecognizerUnreachableMarker, ReasonRecognizerUnreachable)
	if !rec.Diagnostic || rec.ID == "" {
		t.Fatalf("expected diagnostic record with id, got %+v", rec)
	}
	if rec.Verdict != SafeVerdict(ReasonRecognizerUnreachable) {
		t.Fatalf("expected safe verdict, got %+v", rec.Verdict)
	}
	if Clamp(-5) != MinScore || Clamp(150) != MaxScore || Clamp(42) != 42 || Clamp(math.NaN()) != MinScore {
		t.Fatalf("clamp out of range")
	}
}
