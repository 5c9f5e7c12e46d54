package observers

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Retention bounds the per-session artifacts under an artifacts directory.
// A session owns <id>.jsonl and <id>.summary.json; both go together.
type Retention struct {
	MaxAge      time.Duration
	MaxSessions int
}

type artifactSet struct {
	paths []string
	mod   time.Time
}

// Purge deletes sessions older than MaxAge, then the oldest sessions beyond
// MaxSessions, and returns how many files were removed. Zero limits are
// ignored and files that are not session artifacts are left alone.
func (r Retention) Purge(dir string) (int, error) {
	if dir == "" || (r.MaxAge <= 0 && r.MaxSessions <= 0) {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	var errs error
	sets := make(map[string]*artifactSet)
	for _, entry := range entries {
		id, ok := artifactSession(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		set := sets[id]
		if set == nil {
			set = &artifactSet{}
			sets[id] = set
		}
		set.paths = append(set.paths, filepath.Join(dir, entry.Name()))
		if info.ModTime().After(set.mod) {
			set.mod = info.ModTime()
		}
	}

	ordered := make([]*artifactSet, 0, len(sets))
	for _, set := range sets {
		ordered = append(ordered, set)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].mod.After(ordered[j].mod) })

	var removed int
	cutoff := time.Now().Add(-r.MaxAge)
	for i, set := range ordered {
		expired := r.MaxAge > 0 && set.mod.Before(cutoff)
		excess := r.MaxSessions > 0 && i >= r.MaxSessions
		if !expired && !excess {
			continue
		}
		for _, p := range set.paths {
			if err := os.Remove(p); err != nil {
				errs = errors.Join(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errs
}

func artifactSession(name string) (string, bool) {
	for _, suffix := range []string{".summary.json", ".jsonl"} {
		if id, ok := strings.CutSuffix(name, suffix); ok && id != "" {
			return id, true
		}
	}
	return "", false
}
