// Package configutil decodes the free-form settings blocks that select and
// tune oracle, capture and transport providers.
package configutil

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Decode checks input against schema and decodes it into out. Values are
// weakly typed so env-expanded strings land in numeric and bool fields.
func Decode(path string, input map[string]any, schema Schema, out any) error {
	if err := schema.Check(path, input); err != nil {
		return err
	}
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func RequireString(value, path string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", path)
	}
	return nil
}

// BoolValue returns fallback when value is unset.
func BoolValue(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	return strings.NewReplacer("_", "", "-", "").Replace(value)
}
