package scene

import (
	"context"
	"testing"
	"time"

	"github.com/ocs-studio/server/internal/ocs"
)

type queue chan func()

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

type reply struct {
	records []ocs.RenderRecord
	err     error
}

type request struct {
	entries []ocs.Entry
	plane   ocs.SlicePlane
	n       int
	slice   bool
	reply   chan reply
}

// scriptedBackend hands every request to the test and blocks until the
// test answers it.
type scriptedBackend struct {
	requests chan *request
}

func newScriptedBackend() *scriptedBackend {
	return &scriptedBackend{requests: make(chan *request, 16)}
}

func (b *scriptedBackend) FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error) {
	r := &request{entries: entries, reply: make(chan reply, 1)}
	b.requests <- r
	out := <-r.reply
	return out.records, out.err
}

func (b *scriptedBackend) FetchSlice(ctx context.Context, plane ocs.SlicePlane, n int) ([]ocs.RenderRecord, error) {
	r := &request{plane: plane, n: n, slice: true, reply: make(chan reply, 1)}
	b.requests <- r
	out := <-r.reply
	return out.records, out.err
}

func (b *scriptedBackend) next(t *testing.T) *request {
	t.Helper()
	select {
	case r := <-b.requests:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a request")
		return nil
	}
}

func (b *scriptedBackend) assertNoRequest(t *testing.T) {
	t.Helper()
	select {
	case r := <-b.requests:
		t.Fatalf("unexpected request (slice=%v)", r.slice)
	case <-time.After(20 * time.Millisecond):
	}
}

// instantBackend answers every request with one triangle per solid.
type instantBackend struct{}

func (instantBackend) FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error) {
	return triangles(len(entries)), nil
}

func (instantBackend) FetchSlice(ctx context.Context, plane ocs.SlicePlane, n int) ([]ocs.RenderRecord, error) {
	return triangles(n), nil
}

func triangles(n int) []ocs.RenderRecord {
	out := make([]ocs.RenderRecord, n)
	for i := range out {
		out[i] = ocs.RenderRecord{
			Geometry: ocs.Geometry{
				Positions: []float32{-0.5, -0.5, 0, 0.5, -0.5, 0, 0, 0.5, 0},
				Colors:    []float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
				Indices:   []uint32{0, 1, 2},
			},
			Shader: ocs.Shader{Vertex: "v", Fragment: "f"},
			Curves: ocs.Curves{
				Wavelengths: []float64{400, 500, 600},
				Responses:   [4][]float64{{float64(i), 0, 0}},
			},
		}
	}
	return out
}

func namedEntries(names ...string) []ocs.Entry {
	out := make([]ocs.Entry, len(names))
	for i, n := range names {
		out[i] = ocs.DefaultEntry()
		out[i].Name = n
	}
	return out
}
