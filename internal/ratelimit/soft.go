package ratelimit

import (
	"golang.org/x/time/rate"
)

// SoftLimiter is a non-blocking token-bucket pre-filter consulted by
// Processor ahead of the hard Limiter admission predicate: it absorbs
// obviously-over-rate bursts cheaply, without acquiring Limiter's mutex.
// It holds no authoritative state of its own — Limiter remains the single
// source of truth for admission and reconciliation, rather than two
// overlapping rate limiters each claiming to be ground truth.
type SoftLimiter struct {
	bucket *rate.Limiter
}

// NewSoftLimiter constructs a pre-filter allowing burst events immediately
// and replenishing at ratePerSecond thereafter.
func NewSoftLimiter(ratePerSecond float64, burst int) *SoftLimiter {
	return &SoftLimiter{bucket: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a single event may proceed to the hard admission
// check right now. It never blocks.
func (s *SoftLimiter) Allow() bool {
	return s.bucket.Allow()
}
