// Package resilience guards calls to remote backends with a circuit breaker so
// that a degraded scoring service produces fast, explicit failures instead of
// piling up requests that each wait for their full timeout.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

// Defaults for BreakerConfig.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 1
)

const (
	logFmtBreakerOpened   = "Circuit breaker '%s' opened after %d consecutive failures"
	logFmtBreakerReopened = "Circuit breaker '%s' re-opened after failed probe"
	logFmtBreakerClosed   = "Circuit breaker '%s' closed after %d successful probes"
	logFmtBreakerProbing  = "Circuit breaker '%s' half-open, probing backend"
)

// ErrCircuitOpen is returned without calling the backend while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a Breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// BreakerConfig tunes a Breaker. Zero values take the defaults above.
type BreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// HalfOpenMax is the number of successful probes needed to close again.
	HalfOpenMax int
}

// Breaker is a closed / open / half-open circuit breaker. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	log          *logger.Logger

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

// NewBreaker creates a Breaker. log may be nil.
func NewBreaker(cfg BreakerConfig, log *logger.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}

	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}

	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}

	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		log:          log,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is open. A non-nil error from fn counts
// as a backend failure.
func (b *Breaker) Execute(fn func() error) error {
	probing, err := b.admit()
	if err != nil {
		return err
	}

	callErr := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if callErr != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}

	return callErr
}

func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}

		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccess = 0
		b.logInfo(logFmtBreakerProbing, b.name)
	}

	if b.state == StateHalfOpen {
		if b.probes >= b.halfOpenMax {
			return false, ErrCircuitOpen
		}

		b.probes++

		return true, nil
	}

	return false, nil
}

func (b *Breaker) onFailure(probing bool) {
	if probing {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.logWarn(logFmtBreakerReopened, b.name)

		return
	}

	b.failures++
	if b.failures >= b.maxFailures && b.state == StateClosed {
		b.state = StateOpen
		b.openedAt = time.Now()
		b.logWarn(logFmtBreakerOpened, b.name, b.failures)
	}
}

func (b *Breaker) onSuccess(probing bool) {
	if !probing {
		b.failures = 0

		return
	}

	if b.state != StateHalfOpen {
		return
	}

	b.probeSuccess++
	if b.probeSuccess >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		b.logInfo(logFmtBreakerClosed, b.name, b.probeSuccess)

		return
	}

	// Release the slot so the next probe can run.
	b.probes--
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}

	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeSuccess = 0
}

func (b *Breaker) logInfo(format string, args ...any) {
	if b.log != nil {
		b.log.Info(format, args...)
	}
}

func (b *Breaker) logWarn(format string, args ...any) {
	if b.log != nil {
		b.log.Warn(format, args...)
	}
}
