package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

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

type Config struct {
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before a probe is let through.
	Cooldown time.Duration
	// HalfOpenRequests is the number of concurrent probes allowed while half-open.
	HalfOpenRequests uint32
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to any non-nil error.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from, to State)
	Logger        *zap.Logger
	Now           func() time.Time
}

type CircuitBreaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	generation  uint64
	inFlight    uint32
	consecutive uint32
	openedAt    time.Time
}

func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn unless the breaker is open. fn is called at most once.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	generation, err := cb.before()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.after(generation, true)
			panic(r)
		}
	}()

	err = fn()
	cb.after(generation, cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current(cb.cfg.Now())
}

func (cb *CircuitBreaker) before() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.current(cb.cfg.Now()) {
	case StateOpen:
		return cb.generation, ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenRequests {
			return cb.generation, ErrTooManyRequests
		}
	}
	cb.inFlight++
	return cb.generation, nil
}

func (cb *CircuitBreaker) after(generation uint64, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.cfg.Now()
	state := cb.current(now)
	if generation != cb.generation {
		return
	}
	if cb.inFlight > 0 {
		cb.inFlight--
	}

	if !failed {
		cb.consecutive = 0
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.consecutive++
	if state == StateHalfOpen || cb.consecutive >= cb.cfg.FailureThreshold {
		cb.setState(StateOpen, now)
	}
}

// current must be called with cb.mu held.
func (cb *CircuitBreaker) current(now time.Time) State {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.inFlight = 0
	cb.consecutive = 0
	if state == StateOpen {
		cb.openedAt = now
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, prev, state)
	}

	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
