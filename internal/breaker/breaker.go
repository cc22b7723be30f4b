package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, requests blocked
	StateHalfOpen              // Testing if service recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of a breaker, used by the debug
// surface and tests.
type Status struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	LastFailure  time.Time `json:"last_failure_time"`
}

// CircuitBreaker gates calls to a single model service. Closed passes
// requests through, Open rejects them with a local decision, Half-Open lets
// probes through until enough consecutive successes close it again.
type CircuitBreaker struct {
	mu sync.Mutex

	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	state       State
	failures    int
	successes   int
	lastFailure time.Time

	now     func() time.Time
	onState func(State)
	logger  *zap.Logger
}

// Option configures a circuit breaker.
type Option func(*CircuitBreaker)

// WithFailureThreshold sets consecutive failures before opening.
func WithFailureThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = n
	}
}

// WithSuccessThreshold sets half-open successes before closing.
func WithSuccessThreshold(n int) Option {
	return func(cb *CircuitBreaker) {
		cb.successThreshold = n
	}
}

// WithRecoveryTimeout sets time spent open before probing again.
func WithRecoveryTimeout(d time.Duration) Option {
	return func(cb *CircuitBreaker) {
		cb.recoveryTimeout = d
	}
}

// WithLogger adds logging on state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithStateHook registers a callback invoked once by New with the initial
// state, then on every state transition under the breaker lock.
func WithStateHook(fn func(State)) Option {
	return func(cb *CircuitBreaker) {
		cb.onState = fn
	}
}

// New creates a circuit breaker for the named model service.
func New(name string, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: 5,
		successThreshold: 3,
		recoveryTimeout:  30 * time.Second,
		state:            StateClosed,
		now:              time.Now,
		logger:           zap.NewNop(),
	}

	for _, opt := range opts {
		opt(cb)
	}

	if cb.onState != nil {
		cb.onState(cb.state)
	}
	return cb
}

// Name returns the model service this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a request may proceed. An Open breaker whose
// recovery timeout has elapsed transitions to Half-Open and lets the
// request through as a probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailure) >= cb.recoveryTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful call. In Half-Open, enough consecutive
// successes close the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(StateClosed)
		}
	case StateOpen:
		// A success that lands after the breaker opened is ignored.
	}
}

// RecordFailure notes a failed call. Reaching the failure threshold while
// Closed, or any failure while Half-Open, opens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		if cb.failures >= cb.failureThreshold {
			cb.transition(StateOpen)
		}
	case StateOpen:
	}
}

// ForceOpen opens the breaker as if a failure burst had tripped it.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = cb.now()
	cb.transition(StateOpen)
}

// ForceClose resets the breaker to normal operation.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed)
}

// State returns the current state without triggering recovery checks.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a snapshot of the breaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Status{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failures,
		SuccessCount: cb.successes,
		LastFailure:  cb.lastFailure,
	}
}

// transition moves to a new state and resets the counters the target state
// starts from. Callers hold cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to

	switch to {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes = 0
	case StateOpen:
	}

	if cb.onState != nil {
		cb.onState(to)
	}
	if from != to {
		cb.logger.Info("circuit breaker state change",
			zap.String("model", cb.name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Int("failures", cb.failures))
	}
}
