// Package replicate implements the incremental replication engine: per-stream
// bookmarks, adaptive search windows, consistency validation and child
// expansion over a remote helpdesk API.
package replicate

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors the remote API collaborator must surface as distinguishable
// conditions.
var (
	// ErrNotFound indicates the requested resource does not exist on the
	// remote side (e.g. a parent vanished between listing and detail fetch).
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates the credentials lack access to an optional
	// sub-resource. Callers degrade gracefully instead of aborting.
	ErrForbidden = errors.New("access forbidden")
)

// Payload is an opaque record body as decoded from the remote API.
type Payload = map[string]any

// Pager yields successive pages of records from a finite, non-restartable
// sequence. A nil page with a nil error means the sequence is exhausted.
type Pager interface {
	NextPage(ctx context.Context) ([]Payload, error)
}

// Client is the remote API capability the engine consumes. Transport-level
// retry and backoff discipline belongs to the implementation, not the engine.
type Client interface {
	// IncrementalExport returns an ordered sequence of changes to the given
	// entity since the given time, following provider pagination.
	IncrementalExport(ctx context.Context, entity string, since time.Time) (Pager, error)

	// Search queries a size-bounded search endpoint for records of the given
	// entity updated within [start, end). The returned total is the
	// endpoint's own result count, which may exceed what it is willing to
	// page through.
	Search(ctx context.Context, entity string, start, end time.Time) ([]Payload, int, error)

	// ListAll returns the full unordered listing of an entity.
	ListAll(ctx context.Context, entity string) (Pager, error)

	// FetchChildren returns the dependent sub-collection of the given kind
	// for one parent record.
	FetchChildren(ctx context.Context, parentID int64, kind string) ([]Payload, error)
}

// Sink is the emission boundary. Record order within a window must be
// preserved as written.
type Sink interface {
	Write(stream *StreamDescriptor, rec Payload) error
	Flush() error
}

// Store persists the full sync state between runs.
type Store interface {
	Load(ctx context.Context) (SyncState, error)
	Save(ctx context.Context, state SyncState) error
	Close() error
}
