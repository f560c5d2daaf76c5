package replicate

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// testNow is the frozen clock used across engine tests.
var testNow = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// memStore is an in-memory Store recording saves.
type memStore struct {
	state   SyncState
	saves   int
	failSav error
}

func (m *memStore) Load(context.Context) (SyncState, error) {
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

func (m *memStore) Save(_ context.Context, state SyncState) error {
	if m.failSav != nil {
		return m.failSav
	}
	m.state = state.Clone()
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

// memSink collects emitted records in order.
type memSink struct {
	records []emitted
	flushes int
}

type emitted struct {
	stream string
	rec    Payload
}

func (s *memSink) Write(stream *StreamDescriptor, rec Payload) error {
	s.records = append(s.records, emitted{stream: stream.Name, rec: rec})
	return nil
}

func (s *memSink) Flush() error {
	s.flushes++
	return nil
}

func (s *memSink) byStream(name string) []Payload {
	var out []Payload
	for _, e := range s.records {
		if e.stream == name {
			out = append(out, e.rec)
		}
	}
	return out
}

// slicePager plays back pre-baked pages.
type slicePager struct {
	pages [][]Payload
	next  int
}

func (p *slicePager) NextPage(context.Context) ([]Payload, error) {
	if p.next >= len(p.pages) {
		return nil, nil
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

type searchCall struct {
	entity string
	start  time.Time
	end    time.Time
}

type childCall struct {
	parentID int64
	kind     string
}

// fakeClient scripts the remote API for engine tests.
type fakeClient struct {
	searchFn func(call searchCall) ([]Payload, int, error)
	exportFn func(entity string, since time.Time) ([][]Payload, error)
	listFn   func(entity string) ([][]Payload, error)
	childFn  func(parentID int64, kind string) ([]Payload, error)

	searches   []searchCall
	childCalls []childCall
}

func (c *fakeClient) IncrementalExport(_ context.Context, entity string, since time.Time) (Pager, error) {
	if c.exportFn == nil {
		return nil, fmt.Errorf("unexpected incremental export of %s", entity)
	}
	pages, err := c.exportFn(entity, since)
	if err != nil {
		return nil, err
	}
	return &slicePager{pages: pages}, nil
}

func (c *fakeClient) Search(_ context.Context, entity string, start, end time.Time) ([]Payload, int, error) {
	call := searchCall{entity: entity, start: start, end: end}
	c.searches = append(c.searches, call)
	if c.searchFn == nil {
		return nil, 0, fmt.Errorf("unexpected search of %s", entity)
	}
	return c.searchFn(call)
}

func (c *fakeClient) ListAll(_ context.Context, entity string) (Pager, error) {
	if c.listFn == nil {
		return nil, fmt.Errorf("unexpected listing of %s", entity)
	}
	pages, err := c.listFn(entity)
	if err != nil {
		return nil, err
	}
	return &slicePager{pages: pages}, nil
}

func (c *fakeClient) FetchChildren(_ context.Context, parentID int64, kind string) ([]Payload, error) {
	call := childCall{parentID: parentID, kind: kind}
	c.childCalls = append(c.childCalls, call)
	if c.childFn == nil {
		return nil, fmt.Errorf("unexpected child fetch for parent %d", parentID)
	}
	return c.childFn(parentID, kind)
}

// newTestEngine wires an engine with frozen clock, recorded sleeps and
// in-memory collaborators.
func newTestEngine(client Client, store *memStore, config Config) (*Engine, *memSink, *[]time.Duration) {
	if config.StartDate.IsZero() {
		config.StartDate = mustTime("2020-01-01T00:00:00Z")
	}
	state, err := NewStateManager(context.Background(), store, config.StartDate)
	if err != nil {
		panic(err)
	}
	sink := &memSink{}
	engine := NewEngine(client, state, sink, config)
	engine.clock = func() time.Time { return testNow }
	sleeps := &[]time.Duration{}
	engine.sleep = func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	engine.log = logrus.NewEntry(discardLogger())
	return engine, sink, sleeps
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}
