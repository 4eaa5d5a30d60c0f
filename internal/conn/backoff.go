package conn

import "time"

// Backoff computes bounded exponential reconnect delays.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Delay returns the wait before reconnect attempt n (1-based) and whether
// the attempt is allowed at all. Past MaxAttempts the channel stays
// disconnected until the conversation is reopened.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}
	d := b.Base << (attempt - 1)
	if d > b.Cap || d < b.Base { // shift overflow guard
		d = b.Cap
	}
	return d, true
}
