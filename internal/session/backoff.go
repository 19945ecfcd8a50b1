package session

import "time"

// Backoff returns base * 2^attempt capped at max. A negative attempt
// returns base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	// 2^30 seconds is far beyond any sensible ceiling.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}
