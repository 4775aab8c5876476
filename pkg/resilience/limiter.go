package resilience

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/WessleyAI/vanfleet/pkg/fn"
)

// ErrRateLimited is returned by Allow-style checks when no token is available.
var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures a Limiter. A zero Rate means unlimited.
type LimiterOpts struct {
	Rate  float64 // tokens per second
	Burst int
}

// Limiter is a token bucket shared by concurrent writers.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a limiter. Burst defaults to 1.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return &Limiter{lim: rate.NewLimiter(limit, opts.Burst)}
}

// Allow reports whether a token is available now, consuming it if so.
func (l *Limiter) Allow() bool { return l.lim.Allow() }

// Wait blocks until a token is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

// LimitStage waits for a token before running stage.
func LimitStage[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
