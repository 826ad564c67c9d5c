package irisview

import "time"

// DefaultClassifyInterval is the minimum delay between two classification attempts.
const DefaultClassifyInterval = time.Second

// Throttle limits how often an action may run. The zero value allows the
// first attempt immediately.
type Throttle struct {
	Interval time.Duration
	last     time.Time
}

// Ready reports whether an attempt is allowed at now.
func (t *Throttle) Ready(now time.Time) bool {
	return t.last.IsZero() || now.Sub(t.last) >= t.Interval
}

// Mark records an attempt at now. It must be called before the attempt is
// dispatched, so that slow attempts do not stack up.
func (t *Throttle) Mark(now time.Time) {
	t.last = now
}

// Last returns the time of the last attempt.
func (t *Throttle) Last() time.Time {
	return t.last
}

// Reset forgets the last attempt.
func (t *Throttle) Reset() {
	t.last = time.Time{}
}

// ClassificationState tracks the throttled eyewear classification of a session.
type ClassificationState struct {
	Throttle  Throttle
	LastLabel string
}

// LastAttempt returns the time of the last classification attempt.
func (c *ClassificationState) LastAttempt() time.Time {
	return c.Throttle.Last()
}
