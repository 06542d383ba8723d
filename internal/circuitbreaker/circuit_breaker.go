// Package circuitbreaker guards the outbound brokerage client. A run of
// upstream failures opens the circuit and sheds calls for a cooldown
// instead of hammering a provider that is already struggling.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trader-mirror/internal/logging"
)

// State represents the circuit state
type State string

const (
	// StateClosed allows all calls
	StateClosed State = "closed"
	// StateOpen sheds all calls until the cooldown elapses
	StateOpen State = "open"
	// StateHalfOpen lets a few probe calls through to test recovery
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned for calls shed while the circuit is open.
var ErrOpen = errors.New("circuit open: upstream shedding in effect")

// Config configures a breaker.
type Config struct {
	Name           string
	MaxFailures    int           // consecutive failures that open the circuit
	FailureRate    float64       // failure share that opens it once MinCalls were seen
	MinCalls       int           // rate threshold needs at least this many calls
	Cooldown       time.Duration // open duration before probing
	HalfOpenProbes int           // probe calls allowed half-open; same count of successes closes

	// IsFailure decides whether an error counts against the circuit.
	// Deterministic upstream answers, a revoked credential for one, say
	// nothing about provider health and must not open it.
	IsFailure func(error) bool

	Logger *logging.Logger
}

// Breaker is a single-upstream circuit breaker.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	calls        int
	consecutive  int
	probes       int
	stateChanged time.Time
}

// New creates a breaker with sane defaults filled in.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.FailureRate <= 0 || cfg.FailureRate > 1 {
		cfg.FailureRate = 0.5
	}
	if cfg.MinCalls <= 0 {
		cfg.MinCalls = cfg.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetGlobalLogger()
	}

	return &Breaker{
		cfg:          cfg,
		state:        StateClosed,
		stateChanged: time.Now(),
	}
}

// Execute runs fn under circuit protection. Shed calls fail fast with
// ErrOpen without invoking fn.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(b.stateChanged) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probes = 0
		b.successes = 0
		b.cfg.Logger.WithField("breaker", b.cfg.Name).Info("Circuit half-open, probing upstream")
		fallthrough

	case StateHalfOpen:
		if b.probes >= b.cfg.HalfOpenProbes {
			return ErrOpen
		}
		b.probes++
		return nil

	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++

	if err != nil && b.cfg.IsFailure(err) {
		b.onFailure()
		return
	}
	b.onSuccess()
}

func (b *Breaker) onSuccess() {
	b.successes++
	b.consecutive = 0

	if b.state == StateHalfOpen && b.successes >= b.cfg.HalfOpenProbes {
		b.setState(StateClosed)
		b.resetCounters()
		b.cfg.Logger.WithField("breaker", b.cfg.Name).Info("Circuit closed, upstream recovered")
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.consecutive++

	switch b.state {
	case StateClosed:
		if b.shouldOpen() {
			b.setState(StateOpen)
			b.cfg.Logger.WithFields(map[string]interface{}{
				"breaker":     b.cfg.Name,
				"failures":    b.failures,
				"calls":       b.calls,
				"consecutive": b.consecutive,
			}).Warn("Circuit opened, shedding upstream calls")
		}
	case StateHalfOpen:
		// One failed probe is enough evidence the upstream is still down.
		b.setState(StateOpen)
		b.cfg.Logger.WithField("breaker", b.cfg.Name).Warn("Circuit reopened after failed probe")
	}
}

func (b *Breaker) shouldOpen() bool {
	if b.consecutive >= b.cfg.MaxFailures {
		return true
	}
	if b.calls < b.cfg.MinCalls {
		return false
	}
	return float64(b.failures)/float64(b.calls) >= b.cfg.FailureRate
}

func (b *Breaker) setState(state State) {
	b.state = state
	b.stateChanged = time.Now()
}

func (b *Breaker) resetCounters() {
	b.failures = 0
	b.successes = 0
	b.calls = 0
	b.consecutive = 0
	b.probes = 0
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	Name        string  `json:"name"`
	State       State   `json:"state"`
	Failures    int     `json:"failures"`
	Successes   int     `json:"successes"`
	Calls       int     `json:"calls"`
	Consecutive int     `json:"consecutive"`
	FailureRate float64 `json:"failureRate"`
}

// Stats returns current counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var rate float64
	if b.calls > 0 {
		rate = float64(b.failures) / float64(b.calls)
	}

	return Stats{
		Name:        b.cfg.Name,
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		Calls:       b.calls,
		Consecutive: b.consecutive,
		FailureRate: rate,
	}
}
