// Package backoff computes reconnection delays: exponential growth from a
// base delay, capped, with bounded random jitter. Reconnection is a control
// loop, so the policy is a small stateful value the connection manager steps
// through rather than an inline retry branch.
package backoff

import (
	"math/rand"
	"time"
)

// Policy describes the delay schedule. The zero value is not usable; build
// one with New or populate all fields.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Cap bounds the grown delay before jitter is applied.
	Cap time.Duration
	// JitterFraction is the maximum fraction of the delay added as jitter,
	// in [0, 1]. Jitter is additive only so the schedule stays
	// non-decreasing up to the cap.
	JitterFraction float64

	// rnd allows deterministic schedules in tests. Nil uses the shared
	// global source.
	rnd *rand.Rand
}

// New builds a Policy with the given base and cap and 10% additive jitter.
func New(base, cap time.Duration) Policy {
	return Policy{Base: base, Cap: cap, JitterFraction: 0.1}
}

// WithRand returns a copy of the policy driven by the given source.
func (p Policy) WithRand(rnd *rand.Rand) Policy {
	p.rnd = rnd
	return p
}

// Delay returns the delay before retry number attempt (zero-based). The
// un-jittered component doubles per attempt until it reaches the cap.
func (p Policy) Delay(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}

	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}

	if p.JitterFraction > 0 {
		span := float64(d) * p.JitterFraction
		var f float64
		if p.rnd != nil {
			f = p.rnd.Float64()
		} else {
			f = rand.Float64()
		}
		d += time.Duration(f * span)
	}
	return d
}
