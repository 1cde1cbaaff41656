package errors

import (
	"math/rand/v2"
	"time"
)

// Schedule computes the delay before a message becomes visible again
// after a failed delivery attempt. Attempt numbering starts at 1.
type Schedule struct {
	// Initial is the delay after the first failure.
	Initial time.Duration

	// Max caps the delay.
	Max time.Duration

	// Factor is the multiplier applied per attempt. Factor <= 1
	// yields a fixed delay.
	Factor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// FixedVisibility is the default schedule: a fixed 30 second
// visibility timeout per redelivery, the SQS-style baseline the
// pipeline requires for correctness.
var FixedVisibility = Schedule{
	Initial: 30 * time.Second,
	Max:     30 * time.Second,
	Factor:  1.0,
}

// ExponentialBackoff is an opt-in schedule for consumers that prefer
// spacing out redeliveries.
var ExponentialBackoff = Schedule{
	Initial: 5 * time.Second,
	Max:     5 * time.Minute,
	Factor:  2.0,
	Jitter:  0.1,
}

// Fixed returns a schedule with a constant delay.
func Fixed(d time.Duration) Schedule {
	return Schedule{Initial: d, Max: d, Factor: 1.0}
}

// Delay returns the visibility delay for the given attempt number.
func (s Schedule) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(s.Initial)
	if s.Factor > 1 {
		for i := 1; i < attempt; i++ {
			d *= s.Factor
			if d >= float64(s.Max) {
				d = float64(s.Max)
				break
			}
		}
	}
	if s.Max > 0 && d > float64(s.Max) {
		d = float64(s.Max)
	}

	if s.Jitter > 0 {
		d += d * s.Jitter * (rand.Float64()*2 - 1)
	}

	return time.Duration(d)
}
