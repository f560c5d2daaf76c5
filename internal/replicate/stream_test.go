package replicate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogIsComplete(t *testing.T) {
	names := make([]string, 0, len(Catalog()))
	for _, spec := range Catalog() {
		names = append(names, spec.Descriptor.Name)
	}
	assert.Equal(t, []string{
		"tickets", "groups", "users", "organizations",
		"ticket_audits", "ticket_comments", "ticket_fields", "ticket_forms",
		"group_memberships", "macros", "satisfaction_ratings", "tags",
		"ticket_metrics", "sla_policies",
	}, names)
}

func TestLookupUnknownStream(t *testing.T) {
	_, ok := Lookup("invoices")
	assert.False(t, ok)
}

func TestChildStreamsShareParentCursor(t *testing.T) {
	for _, name := range []string{"ticket_audits", "ticket_comments", "ticket_metrics"} {
		spec, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, VariantChildren, spec.Variant, name)
		assert.Equal(t, "tickets", spec.Parent, name)
		assert.True(t, spec.EpochCursor, name)
	}
}

func TestPayloadTimeParsesEpochForms(t *testing.T) {
	want := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, rec := range map[string]Payload{
		"float":       {"generated_timestamp": float64(1609459200)},
		"int":         {"generated_timestamp": int64(1609459200)},
		"json.Number": {"generated_timestamp": json.Number("1609459200")},
	} {
		ts, ok := payloadTime(rec, "generated_timestamp", true)
		require.True(t, ok, name)
		assert.True(t, ts.Equal(want), name)
	}
}

func TestPayloadTimeParsesTimestamps(t *testing.T) {
	ts, ok := payloadTime(Payload{"updated_at": "2021-06-15T12:30:45Z"}, "updated_at", false)
	require.True(t, ok)
	assert.Equal(t, time.Date(2021, 6, 15, 12, 30, 45, 0, time.UTC), ts)

	_, ok = payloadTime(Payload{"updated_at": "not a time"}, "updated_at", false)
	assert.False(t, ok)

	_, ok = payloadTime(Payload{}, "updated_at", false)
	assert.False(t, ok)
}

func TestRecordIDForms(t *testing.T) {
	id, ok := recordID(Payload{"id": float64(42)})
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	id, ok = recordID(Payload{"id": json.Number("9007199254740993")})
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), id)

	_, ok = recordID(Payload{"id": "oops"})
	assert.False(t, ok)

	_, ok = recordID(Payload{})
	assert.False(t, ok)
}

func TestSeenSetDeduplicates(t *testing.T) {
	seen := newSeenSet()
	assert.True(t, seen.add(1))
	assert.True(t, seen.add(2))
	assert.False(t, seen.add(1))
	assert.True(t, seen.add(3))
}
