package transport

import "time"

// Backoff computes the wait before reconnect attempt n (1-based):
// Interval × Multiplier^(n-1), capped at MaxDelay, or at an hour when
// MaxDelay is unset. A Multiplier of 1 (or less) gives a fixed interval.
type Backoff struct {
	Interval   time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultBackoff retries every five seconds.
var DefaultBackoff = Backoff{Interval: 5 * time.Second, Multiplier: 1}

// DefaultMaxAttempts is the attempt ceiling before the transport gives up.
const DefaultMaxAttempts = 5

const delayCeiling = time.Hour

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	m := b.Multiplier
	if m < 1 {
		m = 1
	}

	ceiling := b.MaxDelay
	if ceiling <= 0 {
		ceiling = delayCeiling
	}

	// Compare in float64 so large attempts never overflow the conversion.
	d := float64(b.Interval)
	for i := 1; i < attempt; i++ {
		if d >= float64(ceiling) {
			break
		}
		d *= m
	}
	if d >= float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}
