package replicate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A fatal stream aborts only that stream: the run continues, previously
// checkpointed streams keep their state, and the failure is reported at the
// end.
func TestRunIsolatesFatalStreams(t *testing.T) {
	store := &memStore{}
	client := &fakeClient{
		// users: permanently over cap at the window floor -> fatal
		searchFn: func(call searchCall) ([]Payload, int, error) {
			if call.entity == "users" {
				return nil, 5000, nil
			}
			return nil, 0, nil
		},
		listFn: func(string) ([][]Payload, error) {
			return [][]Payload{{{"id": float64(1), "updated_at": "2020-05-01T00:00:00Z"}}}, nil
		},
	}

	engine, sink, _ := newTestEngine(client, store, Config{
		Streams:       []string{"groups", "users", "macros"},
		WindowSeconds: 1,
	})

	err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 streams failed")

	// both snapshot streams still synced
	assert.Len(t, sink.byStream("groups"), 1)
	assert.Len(t, sink.byStream("macros"), 1)
	assert.Empty(t, sink.byStream("users"))

	// checkpointed state survived the users failure
	assert.Contains(t, store.state, "groups")
	assert.Contains(t, store.state, "macros")
	assert.NotContains(t, store.state, "users")
}

func TestRunAllStreamsSelectedByDefault(t *testing.T) {
	engine, _, _ := newTestEngine(&fakeClient{}, &memStore{}, Config{})
	assert.Len(t, engine.selectedStreams(), len(Catalog()))
}

func TestRunSelectedStreamsKeepCatalogOrder(t *testing.T) {
	engine, _, _ := newTestEngine(&fakeClient{}, &memStore{}, Config{
		Streams: []string{"macros", "groups"}, // reversed on purpose
	})
	selected := engine.selectedStreams()
	require.Len(t, selected, 2)
	assert.Equal(t, "groups", selected[0].Descriptor.Name)
	assert.Equal(t, "macros", selected[1].Descriptor.Name)
}

func TestRunRejectsUnknownSelection(t *testing.T) {
	engine, _, _ := newTestEngine(&fakeClient{}, &memStore{}, Config{
		Streams: []string{"no_such_stream"},
	})
	err := engine.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no known streams selected")
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{
		listFn: func(string) ([][]Payload, error) {
			cancel() // cancel mid-run
			return [][]Payload{{{"id": float64(1), "updated_at": "2020-05-01T00:00:00Z"}}}, nil
		},
	}
	store := &memStore{failSav: context.Canceled}

	engine, _, _ := newTestEngine(client, store, Config{Streams: []string{"groups", "macros"}})
	err := engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEmitPreservesOrderWithinWindow(t *testing.T) {
	spec := mustSpec(t, "organizations")
	client := &fakeClient{
		exportFn: func(string, time.Time) ([][]Payload, error) {
			return [][]Payload{
				{
					{"id": float64(3), "updated_at": "2020-05-03T00:00:00Z"},
					{"id": float64(1), "updated_at": "2020-05-01T00:00:00Z"},
					{"id": float64(2), "updated_at": "2020-05-02T00:00:00Z"},
				},
			}, nil
		},
	}

	engine, sink, _ := newTestEngine(client, &memStore{}, Config{})
	err := engine.syncStream(context.Background(), spec, testLog())
	require.NoError(t, err)

	records := sink.byStream("organizations")
	require.Len(t, records, 3)
	// emitted exactly as produced, no reordering
	assert.Equal(t, float64(3), records[0]["id"])
	assert.Equal(t, float64(1), records[1]["id"])
	assert.Equal(t, float64(2), records[2]["id"])
}
