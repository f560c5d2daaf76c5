package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// syncSearch replicates a stream through a size-bounded search endpoint using
// adaptive time windows. Each window goes through fetch, cap check, guard
// validation, emit and checkpoint before the start advances; an over-cap
// result shrinks the window and re-queries the same start without touching
// the bookmark.
func (e *Engine) syncSearch(ctx context.Context, spec *StreamSpec, log *logrus.Entry) error {
	name := spec.Descriptor.Name
	key := spec.Descriptor.ReplicationKey
	bookmark := e.state.Bookmark(name, key)

	wc := newWindowController(e.config.WindowSeconds, e.clock)
	guard := newConsistencyGuard(name, e.sleep)

	start := bookmark
	if spec.Guard == GuardRetry {
		// widen by the bookmark's own +1s so a record updated exactly at
		// the boundary is not lost to clock skew
		start = bookmark.Add(-time.Second)
	}

	for !wc.exhausted(start) {
		end := wc.end(start)
		queryEnd := wc.clip(end)
		log.WithFields(logrus.Fields{
			"start": start.Format(timeLayout),
			"end":   queryEnd.Format(timeLayout),
		}).Info("Querying search window")

		records, total, err := e.client.Search(ctx, name, start, queryEnd)
		if err != nil {
			return fmt.Errorf("failed to search %s window: %w", name, err)
		}

		if total > spec.SearchCap {
			if wc.shrink() {
				log.WithFields(logrus.Fields{
					"count":          total,
					"window_seconds": wc.size,
				}).Info("Search response size too large, cutting window in half")
				continue
			}
			return &CapacityExceededError{
				Stream:      name,
				WindowStart: start,
				Count:       total,
				Cap:         spec.SearchCap,
			}
		}

		switch spec.Guard {
		case GuardRetry:
			if stale := staleTimestamps(records, key, spec.EpochCursor, start); len(stale) > 0 {
				log.WithFields(logrus.Fields{
					"stale":   len(stale),
					"attempt": guard.attempts + 1,
				}).Info("Record found before window start, waiting then retrying window for consistency")
				if err := guard.violated(ctx, start, stale); err != nil {
					return err
				}
				continue
			}
			guard.passed()

			for _, rec := range records {
				ts, ok := payloadTime(rec, key, spec.EpochCursor)
				if !ok {
					continue
				}
				// inclusive on both ends: the 1s window overlap plus
				// run boundaries make half-open emission lose records
				if !ts.Before(start) && !ts.After(queryEnd) {
					if err := e.emit(spec, rec); err != nil {
						return err
					}
				}
			}
			e.state.Advance(name, key, queryEnd)

		case GuardDeferred:
			// results are not trusted to arrive ordered by the
			// replication key, so the bookmark only moves once the whole
			// window has been scanned
			var maxSeen time.Time
			for _, rec := range records {
				ts, ok := payloadTime(rec, key, spec.EpochCursor)
				if !ok {
					continue
				}
				if ts.Before(start) {
					return &ConsistencyViolationError{
						Stream:      name,
						WindowStart: start,
						Stale:       []string{ts.Format(timeLayout)},
					}
				}
				if ts.After(bookmark) && !ts.After(queryEnd) && ts.After(maxSeen) {
					maxSeen = ts
				}
				if !ts.After(queryEnd) {
					if err := e.emit(spec, rec); err != nil {
						return err
					}
				}
			}
			if !maxSeen.IsZero() {
				e.state.Advance(name, key, maxSeen)
			}
		}

		if err := e.checkpoint(ctx); err != nil {
			return err
		}
		if wc.grow() {
			log.WithField("window_seconds", wc.size).Info("Successfully requested records, doubling search window")
		}
		start = wc.next(end)
	}

	return nil
}
