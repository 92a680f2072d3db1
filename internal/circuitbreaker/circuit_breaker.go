// Package circuitbreaker guards the outbound reasoning API. Repeated
// transport-level failures open the circuit so a struggling upstream is
// not hammered by every in-flight analysis at once.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker tuning.
type Config struct {
	FailureThreshold uint32        // consecutive failures that open the circuit
	SuccessThreshold uint32        // successes in half-open that close it
	HalfOpenRequests uint32        // max concurrent probes while half-open
	ResetTimeout     time.Duration // open -> half-open delay
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		HalfOpenRequests: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// Counts holds the statistics of the current generation.
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// CircuitBreaker implements the classic three-state breaker. A generation
// counter discards results of calls that started before a state change.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

// New creates a circuit breaker in the closed state.
func New(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config = DefaultConfig()
	}
	return &CircuitBreaker{name: name, config: config, logger: logger}
}

// Execute runs fn if the breaker admits the call. The classify callback
// decides whether an error counts against the breaker; rejections and
// refusals from the upstream are real answers, not breaker failures.
func (cb *CircuitBreaker) Execute(fn func() error, classify func(error) bool) error {
	generation, err := cb.before()
	if err != nil {
		return err
	}
	callErr := fn()
	failed := callErr != nil && (classify == nil || classify(callErr))
	cb.after(generation, !failed)
	return callErr
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refresh(time.Now())
	return cb.state
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.refresh(now)

	switch cb.state {
	case StateOpen:
		return cb.generation, ErrOpen
	case StateHalfOpen:
		if cb.counts.Requests >= cb.config.HalfOpenRequests {
			return cb.generation, ErrTooManyRequests
		}
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) after(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return // state changed while the call was in flight
	}
	if success {
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	}
}

// refresh moves an expired open circuit to half-open. Caller holds mu.
func (cb *CircuitBreaker) refresh(now time.Time) {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.transition(StateHalfOpen)
	}
}

// transition changes state and starts a new generation. Caller holds mu.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if cb.logger != nil {
		cb.logger.Info("Circuit breaker state change",
			zap.String("name", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
