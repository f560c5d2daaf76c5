package replicate

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/datapipe-labs/helpdesk-sync/internal/retry"
)

const (
	// consistencyRetryInterval is the fixed sleep between re-issues of a
	// window whose results violate the lower bound.
	consistencyRetryInterval = 30 * time.Second

	// maxConsistencyRetries bounds re-issues per window: 60 attempts at 30
	// seconds each, half an hour total. Exhaustion is fatal rather than
	// silently emitting or skipping a known-bad window.
	maxConsistencyRetries = 60
)

// consistencyGuard validates that a window's records respect the queried
// lower bound. Some search endpoints occasionally return stale-indexed
// records; the guard re-issues the identical window until they resolve or the
// retry budget runs out. The budget is per window: it resets once a window
// validates.
type consistencyGuard struct {
	stream   string
	attempts int
	backoff  goretry.Backoff
	sleep    func(ctx context.Context, d time.Duration) error
}

func newConsistencyGuard(stream string, sleep func(ctx context.Context, d time.Duration) error) *consistencyGuard {
	return &consistencyGuard{
		stream:  stream,
		backoff: retry.ConstantBackoff(consistencyRetryInterval, maxConsistencyRetries),
		sleep:   sleep,
	}
}

// staleTimestamps returns the raw replication-key values of records whose
// timestamp falls before the window start.
func staleTimestamps(records []Payload, key string, epoch bool, start time.Time) []string {
	var stale []string
	for _, rec := range records {
		ts, ok := payloadTime(rec, key, epoch)
		if !ok {
			continue
		}
		if ts.Before(start) {
			stale = append(stale, ts.Format(timeLayout))
		}
	}
	return stale
}

// violated records a failed validation and sleeps the backoff interval before
// the caller re-issues the window. Returns a ConsistencyViolationError once
// the retry budget is exhausted.
func (g *consistencyGuard) violated(ctx context.Context, start time.Time, stale []string) error {
	interval, stop := g.backoff.Next()
	if stop {
		return &ConsistencyViolationError{
			Stream:      g.stream,
			WindowStart: start,
			Attempts:    g.attempts,
			Stale:       stale,
		}
	}
	g.attempts++
	return g.sleep(ctx, interval)
}

// passed resets the retry budget for the next window.
func (g *consistencyGuard) passed() {
	g.attempts = 0
	g.backoff = retry.ConstantBackoff(consistencyRetryInterval, maxConsistencyRetries)
}
