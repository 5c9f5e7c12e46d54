package configutil

import (
	"fmt"
	"sort"
	"strings"
)

// Schema lists the keys a provider settings block may carry. Key matching
// ignores case, underscores and hyphens.
type Schema struct {
	Required     []string
	Optional     []string
	AllowUnknown bool
}

// SettingsError reports a settings block that does not match its schema.
type SettingsError struct {
	Path    string
	Missing []string
	Unknown []string
}

func (e *SettingsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(e.Unknown, ", "))
	}
	msg := strings.Join(parts, "; ")
	if e.Path == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Path, msg)
}

// Check validates input against the schema. Blank strings count as missing
// for required keys. The zero Schema accepts only an empty block.
func (s Schema) Check(path string, input map[string]any) error {
	known := make(map[string]bool, len(s.Required)+len(s.Optional))
	for _, k := range s.Optional {
		known[normalizeKey(k)] = false
	}
	for _, k := range s.Required {
		known[normalizeKey(k)] = true
	}

	present := make(map[string]bool, len(input))
	errs := &SettingsError{Path: path}
	for k, v := range input {
		nk := normalizeKey(k)
		required, ok := known[nk]
		if !ok {
			if !s.AllowUnknown {
				errs.Unknown = append(errs.Unknown, k)
			}
			continue
		}
		present[nk] = !(required && blank(v))
	}
	for _, k := range s.Required {
		if !present[normalizeKey(k)] {
			errs.Missing = append(errs.Missing, k)
		}
	}
	if len(errs.Missing) == 0 && len(errs.Unknown) == 0 {
		return nil
	}
	sort.Strings(errs.Missing)
	sort.Strings(errs.Unknown)
	return errs
}

func blank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}
