package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harunnryd/scamguard/pkg/analysis"
	"github.com/harunnryd/scamguard/pkg/errorsx"
)

// ParseVerdict decodes model output into a verdict. Any field that is absent
// or of the wrong type takes its default; only output that is not a JSON
// object at all is an error. A missing risk_level falls back to scam_score.
func ParseVerdict(raw string) (analysis.Verdict, error) {
	cleaned := cleanJSON(raw)
	if cleaned == "" {
		return analysis.Verdict{}, errorsx.New(errorsx.ReasonOracleDecode, "empty oracle response")
	}
	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return analysis.Verdict{}, errorsx.Wrap(fmt.Errorf("decode verdict: %w", err), errorsx.ReasonOracleDecode)
	}
	if fields == nil {
		return analysis.Verdict{}, errorsx.Wrap(errors.New("verdict is not an object"), errorsx.ReasonOracleDecode)
	}

	v := analysis.SafeVerdict(analysis.ReasonAnalysisComplete)
	if b, ok := boolField(fields["is_scam"]); ok {
		v.IsScam = b
	}
	scam, hasScam := numberField(fields["scam_score"])
	if hasScam {
		v.ScamScore = analysis.Clamp(scam)
	}
	if safety, ok := numberField(fields["safety_score"]); ok {
		v.SafetyScore = analysis.Clamp(safety)
	}
	if risk, ok := numberField(fields["risk_level"]); ok {
		v.RiskLevel = analysis.Clamp(risk)
	} else if hasScam {
		v.RiskLevel = v.ScamScore
	}
	if reason, ok := fields["reason"].(string); ok && strings.TrimSpace(reason) != "" {
		v.Reason = strings.TrimSpace(reason)
	}
	return v, nil
}

// cleanJSON strips markdown fences and surrounding prose from model output.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func boolField(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f != 0, true
		}
	}
	return false, false
}

// numberField accepts JSON numbers and numeric strings such as "85%".
// Non-finite values ("NaN", "Inf") count as absent.
func numberField(v any) (float64, bool) {
	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case json.Number:
		f, err = val.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(val), "%"), 64)
	default:
		return 0, false
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
