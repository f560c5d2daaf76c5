package replicate

import (
	"fmt"
	"time"
)

// CapacityExceededError reports a search window that still exceeds the
// endpoint's result cap after shrinking to the one-second floor. There is no
// smaller window to retry with, so the stream aborts.
type CapacityExceededError struct {
	Stream      string
	WindowStart time.Time
	Count       int
	Cap         int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s: %d records within the minimum one-second window starting %s, endpoint caps at %d per request",
		e.Stream, e.Count, e.WindowStart.Format(time.RFC3339), e.Cap)
}

// ConsistencyViolationError reports records below the queried window's lower
// bound that did not resolve within the bounded retry budget. Emitting or
// skipping such a window would hide a data-consistency problem, so the stream
// aborts instead.
type ConsistencyViolationError struct {
	Stream      string
	WindowStart time.Time
	Attempts    int
	Stale       []string
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("%s: records before window start %s after %d attempts, stale timestamps: %v",
		e.Stream, e.WindowStart.Format(time.RFC3339), e.Attempts, e.Stale)
}
