package connection

import (
	"time"

	"github.com/bobmcallan/hive/internal/models"
)

// Backoff returns the wait before reconnect attempt n (1-based).
// Linear grows as base*n, exponential as base*2^(n-1). A positive max caps both.
func Backoff(strategy models.BackoffStrategy, base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch strategy {
	case models.BackoffExponential:
		shift := attempt - 1
		if shift > 30 {
			shift = 30
		}
		d = base * time.Duration(1<<shift)
	default:
		d = base * time.Duration(attempt)
	}

	if max > 0 && d > max {
		d = max
	}
	return d
}
