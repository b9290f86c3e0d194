// Package cascade implements the primary-to-fallback provider call strategy
// and the per-provider circuit breakers that guard it.
package cascade

import (
	"sync"
	"time"
)

// BreakerState describes a breaker's current gate position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes one provider's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the standard thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         300 * time.Second,
	}
}

// Breaker gates access to one provider. It is shared by all sessions, so every
// method is safe for concurrent use. Time is injectable for tests.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	openUntil           time.Time
	probing             bool
}

// NewBreaker creates a breaker. A nil clock uses time.Now.
func NewBreaker(cfg BreakerConfig, clock func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 300 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{cfg: cfg, now: clock}
}

// Allow reports whether a call may proceed. While open it returns false until
// the cooldown elapses, then admits exactly one probe (half-open); further
// calls are rejected until the probe's outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return true
	}
	if b.now().Before(b.openUntil) {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.openUntil = time.Time{}
	b.probing = false
}

// RecordFailure notes one failed call. A failed half-open probe reopens the
// circuit with a fresh cooldown; otherwise the circuit opens once the
// consecutive-failure threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	if b.probing {
		b.probing = false
		b.openUntil = b.now().Add(b.cfg.Cooldown)
		return
	}
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.openUntil = b.now().Add(b.cfg.Cooldown)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() {
		return StateClosed
	}
	if b.now().Before(b.openUntil) {
		return StateOpen
	}
	return StateHalfOpen
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}
