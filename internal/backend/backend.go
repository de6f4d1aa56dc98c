// Package backend adapts the two analysis services to the estimator
// backends: an Anthropic vision model for imagery and an HTTP structural
// analysis service.
package backend

import (
	"context"
	"errors"

	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
)

// guarded is the shared call shape of both clients: breaker outside, retry inside.
type guarded struct {
	name    string
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

func newGuarded(name string) guarded {
	return guarded{
		name:    name,
		retry:   resilience.DefaultRetryPolicy(),
		breaker: resilience.NewBreaker(name, resilience.BreakerConfig{Trips: Trips}),
	}
}

func (g guarded) call(ctx context.Context, op string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	policy := g.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.LogRetries(g.name, op)
	}
	body, err := resilience.Guard(ctx, g.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.Retry(ctx, policy, fn)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, model.NewBackendError(g.name, model.BackendErrRequest, err)
	}
	return body, err
}

// Trips reports whether err should count against a backend circuit
// breaker: request and status failures do, parse failures and calls
// cancelled by the caller do not.
func Trips(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *model.BackendError
	if errors.As(err, &be) {
		return be.Kind != model.BackendErrParse
	}
	return err != nil
}
