// Package redact masks personal data in transcript text before it reaches
// logs or artifacts. Callers read a scam conversation, so the rules cover
// what scammers ask for: one-time codes, card and social security numbers,
// emails and phone numbers.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: codes are matched before the broader digit patterns eat them.
var rules = []rule{
	{regexp.MustCompile(`(?i)\b((?:code|pin|otp|passcode)(?:\s+(?:is|was))?[\s:#]*)\d{4,8}\b`), "${1}[REDACTED_CODE]"},
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){12,15}\d\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?\b\d[\d\s\-]{7,}\d\b`), "[REDACTED_PHONE]"},
}

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text returns in with every rule applied, or in unchanged when redaction is
// off.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.repl)
	}
	return out
}
