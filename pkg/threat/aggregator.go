package threat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/harunnryd/scamguard/pkg/analysis"
)

// Policy selects how verdicts fold into the session threat level.
type Policy string

const (
	// PolicyLastWrite makes the newest verdict's risk level the threat level,
	// including when it is lower than before.
	PolicyLastWrite Policy = "last_write"
	// PolicyRunningMax keeps the highest risk level seen since the last reset.
	PolicyRunningMax Policy = "running_max"
)

func ParsePolicy(v string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(v))) {
	case "", PolicyLastWrite:
		return PolicyLastWrite, nil
	case PolicyRunningMax:
		return PolicyRunningMax, nil
	default:
		return "", fmt.Errorf("unknown threat policy %q", v)
	}
}

// Aggregator owns the session threat level.
type Aggregator struct {
	mu     sync.Mutex
	level  float64
	policy Policy
}

func New(policy Policy) *Aggregator {
	if policy == "" {
		policy = PolicyLastWrite
	}
	return &Aggregator{policy: policy}
}

// Update folds v into the threat level and returns the new value.
func (a *Aggregator) Update(v analysis.Verdict) float64 {
	risk := analysis.Clamp(v.RiskLevel)
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.policy {
	case PolicyRunningMax:
		if risk > a.level {
			a.level = risk
		}
	default:
		a.level = risk
	}
	return a.level
}

func (a *Aggregator) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.level = 0
	a.mu.Unlock()
}

func (a *Aggregator) Policy() Policy {
	return a.policy
}
