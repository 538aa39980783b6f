package service

import (
	"math/rand/v2"
	"time"
)

// retryDelay is min(base*2^(attempt-1), maxDelay) with equal jitter: half of
// the delay is fixed and the other half is scaled by jitter, a value in [0, 1).
func retryDelay(attempt int, base, maxDelay time.Duration, jitter func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := maxDelay
	if shift := attempt - 1; shift < 62 {
		if scaled := base << shift; scaled > 0 && scaled < maxDelay && scaled>>shift == base {
			d = scaled
		}
	}

	half := d / 2
	return half + time.Duration(jitter()*float64(d-half))
}

// nextAttemptAt keeps the schedule strictly increasing across retries.
func nextAttemptAt(now, previous time.Time, delay time.Duration) time.Time {
	next := now.Add(delay)
	if floor := previous.Add(time.Millisecond); next.Before(floor) {
		return floor
	}
	return next
}

func defaultJitter() float64 {
	return rand.Float64()
}
