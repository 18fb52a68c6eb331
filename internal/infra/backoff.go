package infra

import "time"

// CalculateBackoff returns a capped exponential delay for the given retry
// attempt: base * 2^attempt, never exceeding max.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
