package configutil

import (
	"errors"
	"testing"
)

type sample struct {
	APIKey     string `mapstructure:"api_key"`
	SampleRate int    `mapstructure:"sample_rate"`
	Hold       *bool  `mapstructure:"hold"`
}

func TestDecodeNormalizesKeysAndWeakTypes(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"sample_rate", "hold"}}
	var out sample
	err := Decode("capture.settings", map[string]any{"API-Key": "k", "sampleRate": "8000", "hold": "false"}, schema, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.APIKey != "k" || out.SampleRate != 8000 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if BoolValue(out.Hold, true) {
		t.Fatalf("expected hold=false to be decoded")
	}
}

func TestCheckReportsMissingAndUnknown(t *testing.T) {
	schema := Schema{Required: []string{"api_key"}, Optional: []string{"model"}}
	err := schema.Check("oracle.settings", map[string]any{"api_key": "  ", "colour": "blue"})
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(se.Missing) != 1 || se.Missing[0] != "api_key" || len(se.Unknown) != 1 || se.Unknown[0] != "colour" {
		t.Fatalf("unexpected report %+v", se)
	}
	if got := se.Error(); got != "oracle.settings: missing: api_key; unknown: colour" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestZeroSchema(t *testing.T) {
	if err := (Schema{}).Check("x", nil); err != nil {
		t.Fatalf("empty block should pass: %v", err)
	}
	if err := (Schema{}).Check("x", map[string]any{"a": 1}); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if err := (Schema{AllowUnknown: true}).Check("x", map[string]any{"a": 1}); err != nil {
		t.Fatalf("AllowUnknown should accept: %v", err)
	}
}

func TestBoolValueFallback(t *testing.T) {
	if !BoolValue(nil, true) {
		t.Fatalf("expected fallback")
	}
}
