// Package ratelimit paces outbound piece bytes per Channel's send loop. It
// wraps golang.org/x/time/rate rather than re-deriving token bucket refill
// arithmetic by hand.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket caps throughput to rate units per second, up to burst units of
// instantaneous slack.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a bucket refilling at ratePerSec units/second with
// room for burst units before it starts blocking.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether n units may be spent right now, consuming them from
// the bucket if so.
func (tb *TokenBucket) Allow(n int) bool {
	return tb.limiter.AllowN(time.Now(), n)
}

// Wait blocks until n units are available.
func (tb *TokenBucket) Wait(n int) {
	r := tb.limiter.ReserveN(time.Now(), n)
	if !r.OK() {
		return
	}
	time.Sleep(r.Delay())
}
