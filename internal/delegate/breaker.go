package delegate

import (
	"sync"
	"time"

	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// CircuitState is the routing state of one executor.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // routing normally
	CircuitOpen                         // skipped until cooldown
	CircuitHalfOpen                     // probing
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures per-executor circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive dispatch failures that
	// opens the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the dispatcher defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu               sync.Mutex
	state            CircuitState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// Breakers tracks one circuit per executor id.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates an empty set. A nil now uses time.Now.
func NewBreakers(cfg BreakerConfig, now func() time.Time) *Breakers {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breakers{breakers: make(map[string]*breaker), config: cfg, now: now}
}

// Allow reports whether a task may be routed to executorID. While half-open
// each allowed call consumes one trial slot.
func (b *Breakers) Allow(executorID string) error {
	cb := b.get(executorID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if b.now().Sub(cb.lastFailure) >= b.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeDispatch,
			"circuit open for executor %q after %d consecutive failures", executorID, cb.failures).
			WithDetails(map[string]any{
				"executor_id":          executorID,
				"consecutive_failures": cb.failures,
				"cooldown_remaining":   (b.config.Cooldown - b.now().Sub(cb.lastFailure)).String(),
			})
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeDispatch, "circuit half-open for executor %q: trial call in flight", executorID)
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// Success closes the executor's circuit.
func (b *Breakers) Success(executorID string) {
	cb := b.get(executorID)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// Failure records a dispatch failure and returns the resulting state.
func (b *Breakers) Failure(executorID string) CircuitState {
	cb := b.get(executorID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = b.now()
	if cb.state == CircuitHalfOpen || cb.failures >= b.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the executor's state, moving an open circuit whose cooldown
// elapsed to half-open.
func (b *Breakers) State(executorID string) CircuitState {
	cb := b.get(executorID)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && b.now().Sub(cb.lastFailure) >= b.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

func (b *Breakers) get(executorID string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[executorID]
	if !ok {
		cb = &breaker{}
		b.breakers[executorID] = cb
	}
	return cb
}
