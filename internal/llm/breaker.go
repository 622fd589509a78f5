package llm

import (
	"context"
	"errors"

	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/pkg/circuitbreaker"
	"github.com/voc-classifier/backend/pkg/logger"
)

type Generator interface {
	Generate(ctx context.Context, messages []Message) (Reply, error)
}

// Guarded wraps a Generator with a circuit breaker. While the breaker is
// open, Generate fails immediately with a *GenerationError and the endpoint
// is not called. Each call still reaches the endpoint at most once.
type Guarded struct {
	next Generator
	cb   *circuitbreaker.CircuitBreaker
}

func NewGuarded(next Generator, cfg circuitbreaker.Config) *Guarded {
	if cfg.IsFailure == nil {
		cfg.IsFailure = isOutage
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	onChange := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	return &Guarded{next: next, cb: circuitbreaker.New("generation", cfg)}
}

func (g *Guarded) Generate(ctx context.Context, messages []Message) (Reply, error) {
	var reply Reply
	err := g.cb.Execute(func() error {
		var err error
		reply, err = g.next.Generate(ctx, messages)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		metrics.GenerationRequests.WithLabelValues("breaker_open").Inc()
		return Reply{}, &GenerationError{Err: err}
	}
	return reply, err
}

func (g *Guarded) State() circuitbreaker.State {
	return g.cb.State()
}

// isOutage counts transport failures and 5xx responses. Client errors and
// caller cancellation do not trip the breaker.
func isOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.StatusCode == 0 || genErr.StatusCode >= 500
	}
	return false
}
