// Package emit provides record emission sinks for helpdesk-sync.
package emit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/datapipe-labs/helpdesk-sync/internal/replicate"
)

// message is one emitted line: the stream name and the record payload.
type message struct {
	Type   string            `json:"type"`
	Stream string            `json:"stream"`
	Record replicate.Payload `json:"record"`
}

// JSONLines writes one JSON object per record to an underlying writer,
// preserving the order records were handed over in. Output is buffered;
// the engine flushes at checkpoint boundaries.
type JSONLines struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

// NewJSONLines creates a sink writing to w (typically stdout).
func NewJSONLines(w io.Writer) *JSONLines {
	bw := bufio.NewWriter(w)
	return &JSONLines{
		w:   bw,
		enc: json.NewEncoder(bw),
	}
}

// Write emits a single record under its stream name.
func (s *JSONLines) Write(stream *replicate.StreamDescriptor, rec replicate.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := message{
		Type:   "RECORD",
		Stream: stream.Name,
		Record: rec,
	}
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("failed to encode record for stream %s: %w", stream.Name, err)
	}
	return nil
}

// Flush drains the buffer to the underlying writer.
func (s *JSONLines) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush emission buffer: %w", err)
	}
	return nil
}

var _ replicate.Sink = (*JSONLines)(nil)
