package resilience

import (
	"sync"
	"time"
)

// TripFunc decides whether an error counts toward opening the breaker.
type TripFunc func(err error) bool

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	// BreakerHalfOpen lets calls through after the cooldown; the first
	// tripping error reopens the breaker without waiting for the threshold.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker rejects calls for a cooldown after threshold consecutive
// tripping errors.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	trips     TripFunc
	now       func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openUntil time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration, trips TripFunc) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if trips == nil {
		trips = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trips: trips, now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has passed moves to half-open and allows it.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked() != BreakerOpen
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = BreakerClosed
	c.failures = 0
}

func (c *CircuitBreaker) OnError(err error) {
	if !c.trips(err) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.refreshLocked() == BreakerHalfOpen || c.failures >= c.threshold {
		c.state = BreakerOpen
		c.openUntil = c.now().Add(c.cooldown)
		c.failures = 0
	}
}

func (c *CircuitBreaker) refreshLocked() BreakerState {
	if c.state == BreakerOpen && !c.now().Before(c.openUntil) {
		c.state = BreakerHalfOpen
	}
	return c.state
}
