package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultBase is the delay before the first retry
	DefaultBase = 15 * time.Second
	// DefaultCap is the longest delay ever returned
	DefaultCap = time.Hour
	// DefaultJitter is the half-width of the jitter band around 1.0
	DefaultJitter = 0.2
)

// Policy maps a retry attempt number to a delay.
// Delay grows as Base*2^(attempt-1), scaled by a factor drawn from [1-Jitter, 1+Jitter]
// and clamped to [Base, Cap].
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64

	// Rand returns a value in [0, 1). Nil means math/rand/v2.
	Rand func() float64
}

// Default returns the policy with 15s base, 1h cap and ±20% jitter
func Default() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap, Jitter: DefaultJitter}
}

// Delay returns the wait before retry number attempt (1-based)
func (p Policy) Delay(attempt int) time.Duration {
	base, limit := p.bounds()
	if attempt < 1 {
		attempt = 1
	}

	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	factor := 1 - jitter + 2*jitter*r()

	// float64 keeps large attempts from overflowing; anything past the cap is clamped below
	raw := float64(base) * math.Pow(2, float64(attempt-1)) * factor
	if math.IsInf(raw, 0) || math.IsNaN(raw) || raw >= float64(limit) {
		return limit
	}
	if raw < float64(base) {
		return base
	}
	return time.Duration(raw)
}

func (p Policy) bounds() (time.Duration, time.Duration) {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	limit := p.Cap
	if limit <= 0 {
		limit = DefaultCap
	}
	if limit < base {
		limit = base
	}
	return base, limit
}
