// Package backoff computes retry delays for failed delivery attempts.
// Policies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy is exponential backoff with additive jitter:
// Delay(n) = min(Base * 2^(n-1), Cap) + U[0, Jitter).
type Policy struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// New creates a Policy. A zero cap disables capping and a zero jitter
// window disables jitter.
func New(base, maxDelay, jitter time.Duration) Policy {
	return Policy{Base: base, Cap: maxDelay, Jitter: jitter}
}

// Delay returns the wait before retry attempt n (1-indexed). Attempt 1 is
// the first retry after the initial failure.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if p.Cap > 0 && d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	if p.Jitter > 0 {
		d += rand.Float64() * float64(p.Jitter) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(d)
}
