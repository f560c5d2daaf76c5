package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// timeLayout is the one-second-granularity wire format for bookmarks.
const timeLayout = "2006-01-02T15:04:05Z"

// SyncState maps stream name to {replication key: bookmark timestamp}. It is
// the only state surviving a run.
type SyncState map[string]map[string]string

// Clone returns a deep copy, so stores can hold a snapshot safely.
func (s SyncState) Clone() SyncState {
	out := make(SyncState, len(s))
	for stream, bm := range s {
		inner := make(map[string]string, len(bm))
		for k, v := range bm {
			inner[k] = v
		}
		out[stream] = inner
	}
	return out
}

// StateManager holds the in-memory sync state and persists it through a Store
// at window boundaries. Bookmarks only move forward.
type StateManager struct {
	store        Store
	state        SyncState
	defaultStart time.Time
}

// NewStateManager loads persisted state from the store. Streams without a
// persisted bookmark default to the configured start date.
func NewStateManager(ctx context.Context, store Store, defaultStart time.Time) (*StateManager, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	if state == nil {
		state = make(SyncState)
	}
	return &StateManager{
		store:        store,
		state:        state,
		defaultStart: defaultStart.UTC().Truncate(time.Second),
	}, nil
}

// Bookmark returns the current bookmark for a stream, or the configured start
// date if none is persisted.
func (m *StateManager) Bookmark(stream, key string) time.Time {
	if bm, ok := m.state[stream]; ok {
		if raw, ok := bm[key]; ok {
			t, err := time.Parse(timeLayout, raw)
			if err == nil {
				return t.UTC()
			}
			logrus.WithFields(logrus.Fields{
				"stream":   stream,
				"bookmark": raw,
			}).Warn("Ignoring unparseable persisted bookmark")
		}
	}
	return m.defaultStart
}

// Advance moves the bookmark to candidate plus one second, but only forward.
// The extra second avoids re-emitting the boundary record on the next run.
// Returns whether the bookmark moved.
func (m *StateManager) Advance(stream, key string, candidate time.Time) bool {
	candidate = candidate.UTC().Truncate(time.Second)
	if !candidate.After(m.Bookmark(stream, key)) {
		return false
	}
	bm, ok := m.state[stream]
	if !ok {
		bm = make(map[string]string)
		m.state[stream] = bm
	}
	bm[key] = candidate.Add(time.Second).Format(timeLayout)
	return true
}

// Checkpoint persists the full sync state. Called only after a window has
// been fully validated and emitted, never mid-window, so a restart always
// resumes at a known-good boundary.
func (m *StateManager) Checkpoint(ctx context.Context) error {
	if err := m.store.Save(ctx, m.state.Clone()); err != nil {
		return fmt.Errorf("failed to checkpoint sync state: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state, for logging and tests.
func (m *StateManager) Snapshot() SyncState {
	return m.state.Clone()
}
