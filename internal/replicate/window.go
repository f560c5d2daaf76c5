package replicate

import (
	"time"
)

const (
	// DefaultWindowSeconds is the default search window, one month.
	DefaultWindowSeconds = 60 * 60 * 24 * 30

	// safetyMargin keeps query upper bounds away from "now" to avoid racing
	// in-flight writes on the remote side.
	safetyMargin = time.Minute

	// minWindowSeconds is the window floor. Exceeding the endpoint cap at
	// this size is fatal, not retriable.
	minWindowSeconds = 1
)

// windowController computes the next time range to query against a
// size-bounded search endpoint and resizes it from result-volume feedback.
// Windows are half-open [start, end) and never persisted. The horizon is
// fixed once per stream run; the nominal (unclipped) end drives advancement
// so the loop terminates once it passes the horizon.
type windowController struct {
	size     int64 // seconds
	original int64
	horizon  time.Time
}

func newWindowController(sizeSeconds int64, now func() time.Time) *windowController {
	if sizeSeconds <= 0 {
		sizeSeconds = DefaultWindowSeconds
	}
	return &windowController{
		size:     sizeSeconds,
		original: sizeSeconds,
		horizon:  now().UTC().Add(-safetyMargin),
	}
}

// end returns the nominal window end for the given start.
func (w *windowController) end(start time.Time) time.Time {
	return start.Add(time.Duration(w.size) * time.Second)
}

// clip bounds a window end to the horizon for querying.
func (w *windowController) clip(end time.Time) time.Time {
	if end.After(w.horizon) {
		return w.horizon
	}
	return end
}

// shrink halves the window size. Returns false when the floor was already
// reached, in which case the caller must treat the over-cap result as fatal.
func (w *windowController) shrink() bool {
	if w.size <= minWindowSeconds {
		return false
	}
	w.size /= 2
	return true
}

// grow doubles the window back toward the configured default after a
// successful window, responding to transient volume spikes without
// permanently degrading throughput. Never exceeds the default.
func (w *windowController) grow() bool {
	if w.size > w.original/2 {
		return false
	}
	w.size *= 2
	return true
}

// next returns the start of the following window from the nominal end. The
// one-second overlap with the previous window tolerates clock skew across
// requests.
func (w *windowController) next(end time.Time) time.Time {
	return end.Add(-time.Second)
}

// exhausted reports whether the given start has caught up with the horizon.
func (w *windowController) exhausted(start time.Time) bool {
	return !start.Before(w.horizon)
}
