package omniq

import (
	"math"
	"time"
)

// EstimateRetryDelay predicts the delay the ack_fail script will apply
// before a job with the given base backoffMs becomes due again after
// attempt failed attempts.
//
// The script computes due_ms server-side from the job's own
// backoff_ms field using exponential growth (doubling per attempt,
// capped at 10x the base); this helper mirrors that formula so callers
// — dashboards, ETA estimates, tests — can predict the next due time
// without round-tripping to the store. It is advisory only: the
// authoritative due_ms always comes from the RETRY reply itself.
func EstimateRetryDelay(backoffMs int64, attempt int) time.Duration {
	if backoffMs <= 0 {
		backoffMs = 1
	}
	if attempt < 1 {
		attempt = 1
	}
	cap := float64(backoffMs) * 10
	exp := float64(backoffMs) * math.Pow(2, float64(attempt-1))
	if exp > cap {
		exp = cap
	}
	return time.Duration(exp) * time.Millisecond
}
