package replicate

import (
	"encoding/json"
	"strconv"
	"time"
)

// Method is a stream's replication method.
type Method string

const (
	MethodIncremental Method = "INCREMENTAL"
	MethodFullTable   Method = "FULL_TABLE"
)

// Variant selects the replication strategy for a stream.
type Variant int

const (
	// VariantCursor replicates through a provider-native ordered incremental
	// endpoint, advancing the bookmark per record.
	VariantCursor Variant = iota

	// VariantSearch replicates through a capped search endpoint using
	// adaptive time windows.
	VariantSearch

	// VariantSnapshot fetches the full unordered listing and filters
	// client-side against the bookmark.
	VariantSnapshot

	// VariantFullTable reprocesses the entire collection every run.
	VariantFullTable

	// VariantChildren expands a cursor-replicated parent stream into a
	// dependent child collection.
	VariantChildren
)

// GuardPolicy selects how a search stream validates window results.
type GuardPolicy int

const (
	// GuardRetry requires every record's timestamp to respect the window's
	// lower bound, retrying the identical window on violation.
	GuardRetry GuardPolicy = iota

	// GuardDeferred tolerates out-of-order results within the window; the
	// bookmark is only advanced after the entire window has been scanned.
	GuardDeferred
)

// StreamDescriptor identifies a stream after catalog resolution. Immutable.
type StreamDescriptor struct {
	Name           string
	Method         Method
	ReplicationKey string
	KeyProperties  []string
}

// StreamSpec carries a stream's descriptor plus its strategy variant and the
// parameters that variant needs. Strategy selection is a flat name-to-spec
// table rather than a type hierarchy.
type StreamSpec struct {
	Descriptor StreamDescriptor
	Variant    Variant

	// EpochCursor marks streams whose replication key is unix seconds
	// instead of an RFC 3339 string.
	EpochCursor bool

	// SearchCap is the endpoint's hard result-count limit (VariantSearch).
	SearchCap int

	// Guard selects the consistency policy (VariantSearch).
	Guard GuardPolicy

	// Parent and ChildKind wire a child stream to its cursor-replicated
	// parent entity (VariantChildren).
	Parent    string
	ChildKind string

	// SkipStatuses lists parent statuses excluded from child expansion,
	// e.g. children of deleted parents cannot be retrieved.
	SkipStatuses []string

	// DropProperties are removed from the payload before emission.
	DropProperties []string

	// EmitMissingKey emits records lacking the replication key (when they
	// still carry an id) instead of dropping them.
	EmitMissingKey bool
}

var defaultKeyProperties = []string{"id"}

// catalog is the ordered stream registry. Streams sync in this order.
var catalog = []*StreamSpec{
	{
		Descriptor:  StreamDescriptor{Name: "tickets", Method: MethodIncremental, ReplicationKey: "generated_timestamp", KeyProperties: defaultKeyProperties},
		Variant:     VariantCursor,
		EpochCursor: true,
		// fields duplicates custom_fields on the wire, drop before emitting
		DropProperties: []string{"fields"},
	},
	{
		Descriptor: StreamDescriptor{Name: "groups", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSnapshot,
	},
	{
		Descriptor: StreamDescriptor{Name: "users", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSearch,
		SearchCap:  1000,
		Guard:      GuardRetry,
	},
	{
		Descriptor: StreamDescriptor{Name: "organizations", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantCursor,
	},
	{
		Descriptor:   StreamDescriptor{Name: "ticket_audits", Method: MethodIncremental, ReplicationKey: "ticket_generated_timestamp", KeyProperties: defaultKeyProperties},
		Variant:      VariantChildren,
		EpochCursor:  true,
		Parent:       "tickets",
		ChildKind:    "audits",
		SkipStatuses: []string{"deleted"},
	},
	{
		Descriptor:   StreamDescriptor{Name: "ticket_comments", Method: MethodIncremental, ReplicationKey: "ticket_generated_timestamp", KeyProperties: defaultKeyProperties},
		Variant:      VariantChildren,
		EpochCursor:  true,
		Parent:       "tickets",
		ChildKind:    "comments",
		SkipStatuses: []string{"deleted"},
	},
	{
		Descriptor: StreamDescriptor{Name: "ticket_fields", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSnapshot,
	},
	{
		Descriptor: StreamDescriptor{Name: "ticket_forms", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSnapshot,
	},
	{
		Descriptor:     StreamDescriptor{Name: "group_memberships", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:        VariantSnapshot,
		EmitMissingKey: true,
	},
	{
		Descriptor: StreamDescriptor{Name: "macros", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSnapshot,
	},
	{
		Descriptor: StreamDescriptor{Name: "satisfaction_ratings", Method: MethodIncremental, ReplicationKey: "updated_at", KeyProperties: defaultKeyProperties},
		Variant:    VariantSearch,
		SearchCap:  50000,
		Guard:      GuardDeferred,
	},
	{
		Descriptor: StreamDescriptor{Name: "tags", Method: MethodFullTable, KeyProperties: []string{"name"}},
		Variant:    VariantFullTable,
	},
	{
		Descriptor:  StreamDescriptor{Name: "ticket_metrics", Method: MethodIncremental, ReplicationKey: "ticket_generated_timestamp", KeyProperties: defaultKeyProperties},
		Variant:     VariantChildren,
		EpochCursor: true,
		Parent:      "tickets",
		ChildKind:   "metrics",
	},
	{
		Descriptor: StreamDescriptor{Name: "sla_policies", Method: MethodFullTable, KeyProperties: defaultKeyProperties},
		Variant:    VariantFullTable,
	},
}

// Catalog returns the ordered stream registry.
func Catalog() []*StreamSpec {
	return catalog
}

// Lookup returns the spec for a stream name.
func Lookup(name string) (*StreamSpec, bool) {
	for _, spec := range catalog {
		if spec.Descriptor.Name == name {
			return spec, true
		}
	}
	return nil, false
}

// payloadTime extracts the replication-key timestamp from a payload. Epoch
// cursors arrive as JSON numbers, everything else as RFC 3339 strings.
func payloadTime(rec Payload, key string, epoch bool) (time.Time, bool) {
	v, ok := rec[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	if epoch {
		switch n := v.(type) {
		case float64:
			return time.Unix(int64(n), 0).UTC(), true
		case int64:
			return time.Unix(n, 0).UTC(), true
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return time.Time{}, false
			}
			return time.Unix(i, 0).UTC(), true
		}
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// recordID extracts the numeric id key property from a payload.
func recordID(rec Payload) (int64, bool) {
	v, ok := rec["id"]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
