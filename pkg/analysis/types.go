package analysis

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Fixed verdict reasons produced without an oracle assessment.
const (
	ReasonTextTooShort          = "text too short"
	ReasonOracleUnreachable     = "oracle unreachable"
	ReasonOracleTimeout         = "oracle timeout"
	ReasonParseFailed           = "failed to parse response"
	ReasonAnalysisComplete      = "analysis complete"
	ReasonRecognizerUnreachable = "recognizer unreachable"
	ReasonCaptureFailed         = "capture loop failed"
)

// RecognizerUnreachableMarker is the transcript text recorded when the
// speech recognizer cannot be reached for an interval.
const RecognizerUnreachableMarker = "[API Error: Speech Recognizer Unreachable]"

const (
	MinScore           = 0.0
	MaxScore           = 100.0
	DefaultSafetyScore = 100.0
)

// OracleErrorReason formats the reason for a non-2xx oracle response.
func OracleErrorReason(status int) string {
	return "oracle error: " + strconv.Itoa(status)
}

// Utterance is one unit of recognized speech text.
type Utterance struct {
	Text       string    `json:"text"`
	Seq        uint64    `json:"sequence_number"`
	ReceivedAt time.Time `json:"received_at"`
}

// Verdict is the structured risk assessment of one utterance in context.
type Verdict struct {
	IsScam      bool    `json:"is_scam"`
	ScamScore   float64 `json:"scam_score"`
	SafetyScore float64 `json:"safety_score"`
	RiskLevel   float64 `json:"risk_level"`
	Reason      string  `json:"reason"`
}

// SafeVerdict returns the neutral verdict used for every failure path.
func SafeVerdict(reason string) Verdict {
	return Verdict{
		IsScam:      false,
		ScamScore:   MinScore,
		SafetyScore: DefaultSafetyScore,
		RiskLevel:   MinScore,
		Reason:      reason,
	}
}

// Severity buckets a verdict for display.
func (v Verdict) Severity() Severity {
	switch {
	case v.IsScam || v.ScamScore > 60:
		return SeverityHigh
	case v.ScamScore > 30:
		return SeveritySuspicious
	default:
		return SeveritySafe
	}
}

type Severity string

const (
	SeveritySafe       Severity = "safe"
	SeveritySuspicious Severity = "suspicious"
	SeverityHigh       Severity = "high"
)

type ThreatBand string

const (
	BandSafe    ThreatBand = "safe"
	BandCaution ThreatBand = "caution"
	BandDanger  ThreatBand = "danger"
)

// BandFor maps a threat level onto the three display bands.
func BandFor(level float64) ThreatBand {
	switch {
	case level < 20:
		return BandSafe
	case level < 60:
		return BandCaution
	default:
		return BandDanger
	}
}

// LogRecord pairs an utterance with its verdict. Index is assigned by the
// history log on append and reflects insertion order.
type LogRecord struct {
	ID         string    `json:"id"`
	Index      int       `json:"index"`
	Utterance  Utterance `json:"utterance"`
	Verdict    Verdict   `json:"verdict"`
	Diagnostic bool      `json:"diagnostic,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewLogRecord(u Utterance, v Verdict) LogRecord {
	return LogRecord{
		ID:        uuid.NewString(),
		Utterance: u,
		Verdict:   v,
		CreatedAt: time.Now(),
	}
}

// NewDiagnosticRecord builds a record that carries no oracle assessment.
func NewDiagnosticRecord(text, reason string) LogRecord {
	rec := NewLogRecord(Utterance{Text: text, ReceivedAt: time.Now()}, SafeVerdict(reason))
	rec.Diagnostic = true
	return rec
}

// Clamp bounds a score to [0,100]. NaN maps to MinScore.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return MinScore
	}
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
