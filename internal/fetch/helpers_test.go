package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/ocs-studio/server/internal/ocs"
)

// queue is a Dispatcher whose posted completions run only when the test
// drains them, so tests control arrival order.
type queue chan func()

func newQueue() queue { return make(queue, 16) }

func (q queue) Post(fn func()) { q <- fn }

func (q queue) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a completion")
	}
}

type result struct {
	records []ocs.RenderRecord
	err     error
}

type call struct {
	ctx     context.Context
	entries []ocs.Entry
	plane   ocs.SlicePlane
	n       int
	reply   chan result
}

// fakeSource blocks every request until the test replies. It ignores
// cancellation, like a backend that finishes the work anyway.
type fakeSource struct {
	calls chan *call
}

func newFakeSource() *fakeSource {
	return &fakeSource{calls: make(chan *call, 16)}
}

func (f *fakeSource) FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error) {
	c := &call{ctx: ctx, entries: entries, reply: make(chan result, 1)}
	f.calls <- c
	r := <-c.reply
	return r.records, r.err
}

func (f *fakeSource) FetchSlice(ctx context.Context, plane ocs.SlicePlane, n int) ([]ocs.RenderRecord, error) {
	c := &call{ctx: ctx, plane: plane, n: n, reply: make(chan result, 1)}
	f.calls <- c
	r := <-c.reply
	return r.records, r.err
}

func (f *fakeSource) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request")
		return nil
	}
}

func (f *fakeSource) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected request with %d entries", len(c.entries))
	case <-time.After(20 * time.Millisecond):
	}
}

func entries(n int) []ocs.Entry {
	out := make([]ocs.Entry, n)
	for i := range out {
		out[i] = ocs.DefaultEntry()
		out[i].Name = string(rune('A' + i))
	}
	return out
}

func records(n int, tag string) []ocs.RenderRecord {
	out := make([]ocs.RenderRecord, n)
	for i := range out {
		out[i].Shader = ocs.Shader{Vertex: tag, Fragment: tag}
	}
	return out
}
