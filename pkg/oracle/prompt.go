package oracle

import (
	"strings"

	"github.com/harunnryd/scamguard/pkg/analysis"
)

// SensitiveKeywords are phrases the model is told to treat as strong scam signals.
var SensitiveKeywords = []string{
	"gift card",
	"verify password",
	"verify your account",
	"urgent",
	"refund",
	"bank",
	"ssn",
	"social security",
	"wire transfer",
	"remote access",
	"one-time code",
}

const systemPrompt = `You are a PARANOID SCAM DETECTION SYSTEM. Your only job is to protect the person on this call.

ANALYSIS INSTRUCTIONS:
1. Assess the entire conversation history together with the newest phrase, not the newest phrase alone.
2. A conversation that opened with scam indicators stays high risk even if later phrases sound harmless.
3. Be HYPER-SENSITIVE to these signals: ` + "%KEYWORDS%" + `.
4. If it looks like a scam, risk_level must be HIGH (80-100).

Output JSON ONLY:
{"is_scam": boolean, "scam_score": 0-100, "safety_score": 0-100, "risk_level": 0-100, "reason": "short explanation"}`

// SystemPrompt returns the fixed oracle instructions.
func SystemPrompt() string {
	quoted := make([]string, len(SensitiveKeywords))
	for i, k := range SensitiveKeywords {
		quoted[i] = `"` + k + `"`
	}
	return strings.Replace(systemPrompt, "%KEYWORDS%", strings.Join(quoted, ", "), 1)
}

// BuildRequest formats the chronological history window and the newest
// phrase. Diagnostic records are left out of the window.
func BuildRequest(history []analysis.LogRecord, text string) Request {
	texts := make([]string, 0, len(history))
	for _, rec := range history {
		if rec.Diagnostic {
			continue
		}
		texts = append(texts, rec.Utterance.Text)
	}

	var b strings.Builder
	b.WriteString("CONVERSATION HISTORY (chronological, oldest first):\n")
	if len(texts) == 0 {
		b.WriteString("- (no earlier phrases)\n")
	}
	for _, t := range texts {
		b.WriteString("- ")
		b.WriteString(t)
		b.WriteString("\n")
	}
	b.WriteString("\nNEWEST PHRASE:\n\"")
	b.WriteString(text)
	b.WriteString("\"\n")

	return Request{
		System:  SystemPrompt(),
		Prompt:  b.String(),
		History: texts,
		Text:    text,
	}
}
