package llm

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/markdave123-py/ragready/internal/apperr"
)

// Limiter caps requests per second against a model endpoint. A nil
// *Limiter never blocks.
type Limiter struct {
	l *rate.Limiter
}

func NewLimiter(rps float64) *Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.l.Wait(ctx); err != nil {
		return apperr.Timeout("rate limit", err)
	}
	return nil
}
