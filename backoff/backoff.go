// Package backoff computes retry delays for failed run attempts.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// maxDelay bounds every computed delay so shifts cannot overflow.
const maxDelay = time.Duration(1<<62 - 1)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed): retry 1
	// follows the first failed attempt.
	Delay(retry int) time.Duration
}

// Func adapts a function to a Strategy.
type Func func(retry int) time.Duration

// Delay calls f.
func (f Func) Delay(retry int) time.Duration { return f(retry) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear waits Base * retry, capped at Max.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(base, limit time.Duration) *Linear {
	return &Linear{Base: base, Max: limit}
}

// Delay returns Base * retry, capped at Max.
func (l *Linear) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := l.Base * time.Duration(retry)
	if d < 0 || (l.Base > 0 && d/l.Base != time.Duration(retry)) {
		d = maxDelay
	}
	return capAt(d, l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each retry: Base * 2^(retry-1), capped at
// Max. A zero Max leaves it uncapped.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(base, limit time.Duration) *Exponential {
	return &Exponential{Base: base, Max: limit}
}

// Delay returns Base * 2^(retry-1), capped at Max.
func (e *Exponential) Delay(retry int) time.Duration {
	return capAt(exp2(e.Base, retry), e.Max)
}

func exp2(base time.Duration, retry int) time.Duration {
	if base <= 0 {
		return 0
	}
	if retry < 1 {
		retry = 1
	}
	d := base
	for i := 1; i < retry; i++ {
		if d > maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return d
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter randomizes another strategy's delay into
// [d*(1-Fraction), d]. A Fraction of 1 gives full jitter.
type Jitter struct {
	Strategy Strategy
	Fraction float64
}

// WithJitter wraps s with the given jitter fraction, clamped to [0, 1].
func WithJitter(s Strategy, fraction float64) *Jitter {
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	return &Jitter{Strategy: s, Fraction: fraction}
}

// Delay returns the wrapped delay reduced by a random share of Fraction.
func (j *Jitter) Delay(retry int) time.Duration {
	d := j.Strategy.Delay(retry)
	if d <= 0 || j.Fraction == 0 {
		return d
	}
	cut := float64(d) * j.Fraction * rand.Float64() //nolint:gosec // jitter intentionally uses non-crypto rand
	return d - time.Duration(cut)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy is the retry schedule for a job with no explicit delay:
// Exponential from 1m, capped at 1h.
func DefaultStrategy() Strategy {
	return NewExponential(time.Minute, time.Hour)
}
