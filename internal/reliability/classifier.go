package reliability

import "time"

// RetryableStatus reports whether a provider REST response is worth
// retrying. Rate limiting and transient upstream failures qualify;
// everything else is treated as permanent.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Backoff computes a deterministic capped exponential delay for a retry
// attempt. Attempt 0 returns base.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
