// Package resilience guards calls to remote collaborators with a circuit
// breaker.
//
// The interview client talks to exactly one remote service before it dials
// the agent: the credential intermediary. When that service is down every
// Begin would otherwise wait out a full HTTP timeout before reporting the
// failure; [Breaker] fails those calls fast instead. It never retries: a
// rejected or failed call is returned to the caller, who decides whether to
// try again.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open, and
// while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown has
	// elapsed.
	StateOpen

	// StateHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select the defaults.
type BreakerConfig struct {
	// Name labels log lines and state callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// Cooldown is how long the breaker stays open before allowing a probe.
	// Default: 15s.
	Cooldown time.Duration

	// IsFailure reports whether an error returned by the guarded call counts
	// against the breaker. Errors after the caller's own context is done never
	// count. Default: every error counts.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// now is overridden in tests.
	now func() time.Time
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{cfg: cfg}
}

func defaultIsFailure(error) bool { return true }

// Do runs fn unless the breaker rejects the call. fn's error is returned
// unchanged; a rejection returns [ErrCircuitOpen] without calling fn.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	switch {
	case err == nil:
		b.record(probe, false)
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the remote.
		b.abandon(probe)
	case b.cfg.IsFailure(err):
		b.record(probe, true)
	default:
		b.record(probe, false)
	}
	return err
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// admit decides whether a call may proceed and whether it is the half-open
// probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.cfg.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return true, nil
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false, ErrCircuitOpen
		}
		b.probing = true
		b.mu.Unlock()
		return true, nil
	default:
		b.mu.Unlock()
		return false, nil
	}
}

func (b *Breaker) abandon(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) record(probe, failed bool) {
	b.mu.Lock()
	from := b.state
	if probe {
		b.probing = false
	}
	switch {
	case failed && probe:
		b.state = StateOpen
		b.openedAt = b.cfg.now()
		b.failures = b.cfg.MaxFailures
	case failed:
		b.failures++
		if b.failures >= b.cfg.MaxFailures && b.state == StateClosed {
			b.state = StateOpen
			b.openedAt = b.cfg.now()
		}
	default:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if from != to {
		b.cfg.Logger.Warn("circuit breaker state changed",
			"name", b.cfg.Name, "from", from, "to", to, "consecutive_failures", failures)
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}
