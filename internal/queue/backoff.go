package queue

import "time"

// Backoff is an exponential retry schedule: Base * Factor^(attempt-1),
// capped at Max.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// DefaultBackoff yields 5s, 10s, 20s, ... capped at five minutes.
var DefaultBackoff = Backoff{Base: 5 * time.Second, Factor: 2, Max: 5 * time.Minute}

// Delay returns the wait before re-running a job whose attempt-th run failed.
// attempt is 1-based.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	delay := float64(b.Base)
	for i := 1; i < attempt; i++ {
		delay *= factor
		if b.Max > 0 && delay >= float64(b.Max) {
			return b.Max
		}
	}
	d := time.Duration(delay)
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
