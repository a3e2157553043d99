package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ocs-studio/server/internal/export"
	"github.com/ocs-studio/server/internal/fetch"
	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/render"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/internal/store"
)

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
				Responses:   [4][]float64{{0.1, 0.5, 0.2}, {0, 0.4, 0.9}},
			},
		}
	}
	return out
}

type fakeSpecies struct {
	db  ocs.SpectralDB
	err error
}

func (f *fakeSpecies) SpectralDB(ctx context.Context) (ocs.SpectralDB, error) {
	return f.db, f.err
}

type testEnv struct {
	srv     *httptest.Server
	loop    *scene.Loop
	store   *store.Store
	blobs   *export.MemoryStore
	species *fakeSpecies
	reg     *prometheus.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	loop := scene.NewLoop(instantBackend{}, scene.LoopConfig{
		FrameRate: 200,
		Scene:     scene.Config{Outcomes: m},
	})
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "ocs.sqlite"))
	require.NoError(t, err)

	saver := NewSessionSaver(st, "", nil)
	saverDone := make(chan struct{})
	go func() {
		saver.Run(ctx)
		close(saverDone)
	}()
	require.NoError(t, saver.Attach(ctx, loop))

	blobs := export.NewMemoryStore()
	jm := export.NewJobManager(export.JobManagerConfig{MaxConcurrent: 1}, st, blobs, nil, m)
	jm.Start()

	species := &fakeSpecies{db: ocs.SpectralDB{
		"honeybee": {CommonName: "honeybee", Template: "govardovskii", Peaks: []float64{344, 436, 544}},
	}}

	router := NewRouter(RouterConfig{
		Loop:        loop,
		Renderer:    render.NewFrameRenderer(render.Config{FrameSize: 64, SliceFrameSize: 32}, nil, m),
		Species:     species,
		Exports:     jm,
		Sessions:    saver,
		Gatherer:    reg,
		Metrics:     m,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-loopDone
		<-saverDone
		jm.Stop()
		st.Close()
	})
	return &testEnv{srv: srv, loop: loop, store: st, blobs: blobs, species: species, reg: reg}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// getScene is safe to call from Eventually conditions.
func (e *testEnv) getScene() (scene.Frame, bool) {
	var f scene.Frame
	resp, err := http.Get(e.srv.URL + "/api/scene")
	if err != nil {
		return f, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return f, false
	}
	return f, json.NewDecoder(resp.Body).Decode(&f) == nil
}

func (e *testEnv) scene(t *testing.T) scene.Frame {
	t.Helper()
	f, ok := e.getScene()
	require.True(t, ok, "GET /api/scene failed")
	return f
}

// waitMeshes waits until n solids are displayed and the fetch state has
// settled to idle.
func (e *testEnv) waitMeshes(t *testing.T, n int) scene.Frame {
	t.Helper()
	var f scene.Frame
	require.Eventually(t, func() bool {
		var ok bool
		f, ok = e.getScene()
		return ok && len(f.Meshes) == n && f.Fetch.Status == fetch.StatusIdle
	}, 5*time.Second, 10*time.Millisecond)
	return f
}
