package server

import "time"

// rateLimiter enforces two windows per connection: a sliding one-second
// message budget and a short burst window capping consecutive rapid
// messages. Violations are dropped silently; the sender is never told.
type rateLimiter struct {
	perSecond   int
	burstWindow time.Duration
	burstLimit  int

	windowStart time.Time
	windowCount int
	burstStart  time.Time
	burstCount  int
}

func newRateLimiter(cfg LimitConfig) *rateLimiter {
	return &rateLimiter{
		perSecond:   cfg.MessagesPerSecond,
		burstWindow: cfg.BurstWindow,
		burstLimit:  cfg.BurstLimit,
	}
}

// Allow consumes one message slot at the given instant. The boundary is
// inclusive: the perSecond-th message inside a window passes, the next one
// is rejected.
func (rl *rateLimiter) Allow(now time.Time) bool {
	if now.Sub(rl.windowStart) >= time.Second {
		rl.windowStart = now
		rl.windowCount = 0
	}
	if now.Sub(rl.burstStart) >= rl.burstWindow {
		rl.burstStart = now
		rl.burstCount = 0
	}
	if rl.windowCount >= rl.perSecond || rl.burstCount >= rl.burstLimit {
		return false
	}
	rl.windowCount++
	rl.burstCount++
	return true
}

// Retune replaces the limits without resetting the open windows.
func (rl *rateLimiter) Retune(perSecond, burstLimit int) {
	if perSecond > 0 {
		rl.perSecond = perSecond
	}
	if burstLimit > 0 {
		rl.burstLimit = burstLimit
	}
}
