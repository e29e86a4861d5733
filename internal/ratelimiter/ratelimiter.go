// Package ratelimiter throttles RPC calls with a token bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter admits calls at a sustained rate with a burst allowance.
//
// A nil *Limiter admits everything, so servers without a configured limit
// can call it unconditionally. All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting callsPerSecond calls with the given burst.
// A zero rate disables limiting and returns nil. A burst below one is raised
// to one, otherwise no call could ever be admitted.
func New(callsPerSecond, burst uint) *Limiter {
	if callsPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), int(burst))}
}

// Allow reports whether a call may proceed now, consuming a token if so.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// SetLimit changes the sustained rate. Zero lifts the limit.
func (l *Limiter) SetLimit(callsPerSecond uint) {
	if l == nil {
		return
	}
	if callsPerSecond == 0 {
		l.limiter.SetLimit(rate.Inf)
		return
	}
	l.limiter.SetLimit(rate.Limit(callsPerSecond))
}

// Tokens returns the tokens currently in the bucket.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.Tokens()
}
