// Package resilience wraps calls to the browser and answer-engine
// collaborators with bounded retry, exponential backoff, and per-dependency
// circuit breaking. Circuit state is shared across all concurrent course
// tasks: a dead browser driver or degraded provider throttles every run at
// once, not just the one that discovered it.
package resilience

import (
	"sync"
	"time"

	"github.com/certflow/certflow/errors"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	// Closed passes calls through and counts consecutive failures.
	Closed CircuitState = iota
	// Open fails calls fast until the reset timeout elapses.
	Open
	// HalfOpen permits exactly one trial call; its outcome resolves the
	// circuit to Closed or back to Open.
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long an open circuit waits before permitting a trial.
	ResetTimeout time.Duration
}

// Breaker is one dependency's circuit.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a call may proceed. An Open circuit whose reset
// timeout has elapsed moves to HalfOpen and grants the caller the single
// trial slot; every other caller gets ErrCircuitOpen until the trial
// resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = HalfOpen
			b.trialInFlight = true
			return nil
		}
		return errors.ErrCircuitOpen
	case HalfOpen:
		if b.trialInFlight {
			return errors.ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	}
	return nil
}

// Success records a successful call. Closes the circuit and resets the
// failure count regardless of prior state.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.consecutiveFailures = 0
	b.trialInFlight = false
}

// Failure records a failed call. A failed trial reopens the circuit and
// restarts its timeout; in Closed, reaching the threshold opens it.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = b.now()
		b.trialInFlight = false
		return
	}

	if b.state == Closed && b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = Open
		b.openedAt = b.now()
	}
}

// State returns a snapshot of the breaker's position.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// BreakerGroup holds one breaker per dependency name, created on first use.
// Injected into every course state machine so the circuit state is genuinely
// shared.
type BreakerGroup struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup creates an empty group.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for dependency, creating it if needed.
func (g *BreakerGroup) Get(dependency string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[dependency]
	if !ok {
		b = NewBreaker(g.cfg)
		g.breakers[dependency] = b
	}
	return b
}

// States returns a snapshot of every known dependency's circuit position.
func (g *BreakerGroup) States() map[string]CircuitState {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]CircuitState, len(g.breakers))
	for name, b := range g.breakers {
		out[name] = b.State()
	}
	return out
}
