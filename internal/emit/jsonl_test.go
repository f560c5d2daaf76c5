package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
)

func TestJSONLinesWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLines(&buf)

	tickets := &replicate.StreamDescriptor{Name: "tickets", ReplicationKey: "generated_timestamp"}
	users := &replicate.StreamDescriptor{Name: "users", ReplicationKey: "updated_at"}

	require.NoError(t, sink.Write(tickets, replicate.Payload{"id": 1, "subject": "printer on fire"}))
	require.NoError(t, sink.Write(users, replicate.Payload{"id": 2}))
	require.NoError(t, sink.Flush())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "RECORD", first.Type)
	assert.Equal(t, "tickets", first.Stream)
	assert.Equal(t, "printer on fire", first.Record["subject"])

	var second message
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "users", second.Stream)
}

func TestJSONLinesBuffersUntilFlush(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONLines(&buf)

	stream := &replicate.StreamDescriptor{Name: "tags", ReplicationKey: "name"}
	require.NoError(t, sink.Write(stream, replicate.Payload{"name": "vip"}))
	assert.Zero(t, buf.Len())

	require.NoError(t, sink.Flush())
	assert.Positive(t, buf.Len())
}
