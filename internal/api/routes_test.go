package api

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-studio/server/internal/backend"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/store"
)

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `ocs_fetch_total{outcome="success"}`)
}

func TestSceneStartsWithDefaultEntry(t *testing.T) {
	env := newTestEnv(t)
	f := env.waitMeshes(t, 1)
	assert.Equal(t, 1, f.Entries)
	assert.Equal(t, ocs.DefaultEntryName, f.Meshes[0].Name)
	assert.Nil(t, f.Selection)

	resp := env.do(t, http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Entries []ocs.Entry `json:"entries"`
	}
	decode(t, resp, &out)
	require.Len(t, out.Entries, 1)
	assert.Equal(t, ocs.DefaultEntry(), out.Entries[0])
}

func TestEntryLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodPost, "/api/entries", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var added struct {
		Index int       `json:"index"`
		Entry ocs.Entry `json:"entry"`
	}
	decode(t, resp, &added)
	assert.Equal(t, 1, added.Index)

	// Entry edits alone do not refetch.
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, env.scene(t).Meshes, 1)

	resp = env.do(t, http.MethodPost, "/api/fetch", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	env.waitMeshes(t, 2)

	bad := ocs.DefaultEntry()
	bad.Bounds.Min = 100
	resp = env.do(t, http.MethodPost, "/api/entries", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	named := ocs.DefaultEntry()
	named.Name = "wasp"
	resp = env.do(t, http.MethodPut, "/api/entries/1", named)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/entries/7", named)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/entries/x", named)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Deleting keeps entries and displayed records aligned.
	resp = env.do(t, http.MethodDelete, "/api/entries/0", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	f := env.scene(t)
	assert.Equal(t, 1, f.Entries)
	assert.Len(t, f.Meshes, 1)

	resp = env.do(t, http.MethodDelete, "/api/entries/3", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.Eventually(t, func() bool {
		sess, err := env.store.LoadSession(store.DefaultSessionID)
		return err == nil && len(sess.Entries) == 1 && sess.Entries[0].Name == "wasp"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestSpeciesPrefill(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodGet, "/api/species", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Names []string `json:"names"`
	}
	decode(t, resp, &list)
	assert.Equal(t, []string{"honeybee"}, list.Names)

	resp = env.do(t, http.MethodPut, "/api/entries/0/species", speciesRequest{Species: "honeybee"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Entry ocs.Entry `json:"entry"`
	}
	decode(t, resp, &out)
	assert.Equal(t, "honeybee", out.Entry.Name)
	assert.Equal(t, 344.0, out.Entry.Peaks[0].Wavelength)
	assert.False(t, out.Entry.Peaks[3].Active)

	resp = env.do(t, http.MethodPut, "/api/entries/0/species", speciesRequest{Species: "dodo"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/entries/0/species", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.species.err = &backend.Error{Kind: backend.KindNetwork, Message: "species database unreachable"}
	resp = env.do(t, http.MethodGet, "/api/species", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPointerClickStopsSliceCommit(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodPost, "/api/slice/preview", nil)
	var preview map[string]bool
	decode(t, resp, &preview)
	require.True(t, preview["visible"])

	// A press on a mesh selects it and neither commits nor hides the plane.
	mesh := 0
	resp = env.do(t, http.MethodPost, "/api/pointer/down", pointerMessage{Mesh: &mesh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Selection    *int   `json:"selection"`
		SlicePreview bool   `json:"slicePreview"`
		SliceEpoch   uint64 `json:"sliceEpoch"`
	}
	decode(t, resp, &out)
	require.NotNil(t, out.Selection)
	assert.Equal(t, 0, *out.Selection)
	assert.True(t, out.SlicePreview)
	assert.Zero(t, out.SliceEpoch)

	env.do(t, http.MethodPost, "/api/pointer/up", nil)

	// A press on empty space commits the slice once.
	resp = env.do(t, http.MethodPost, "/api/pointer/down", pointerMessage{X: 0.25})
	decode(t, resp, &out)
	assert.False(t, out.SlicePreview)
	assert.Equal(t, uint64(1), out.SliceEpoch)

	require.Eventually(t, func() bool {
		f, ok := env.getScene()
		return ok && len(f.Slices) == 1 && !f.SlicePending
	}, 5*time.Second, 10*time.Millisecond)

	resp = env.do(t, http.MethodPost, "/api/pointer/sideways", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/meshes/9/click", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDragRotatesScene(t *testing.T) {
	env := newTestEnv(t)
	before := env.waitMeshes(t, 1)

	env.do(t, http.MethodPost, "/api/pointer/down", nil)
	env.do(t, http.MethodPost, "/api/pointer/move", pointerMessage{DX: 40, DY: 10})
	env.do(t, http.MethodPost, "/api/pointer/up", nil)
	after := env.scene(t)

	assert.NotEqual(t, before.Rotation, after.Rotation)
	assert.Greater(t, after.Revision, before.Revision)

	// Moves after release do not rotate.
	env.do(t, http.MethodPost, "/api/pointer/move", pointerMessage{DX: 40})
	assert.Equal(t, after.Rotation, env.scene(t).Rotation)
}

func TestSelectionCurves(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodGet, "/api/selection", nil)
	var sel selectionResponse
	decode(t, resp, &sel)
	assert.Nil(t, sel.Selection)
	assert.True(t, sel.Available)
	assert.Equal(t, []float64{400, 500, 600}, sel.Wavelengths)

	env.do(t, http.MethodPost, "/api/meshes/0/click", nil)
	resp = env.do(t, http.MethodGet, "/api/selection", nil)
	decode(t, resp, &sel)
	require.NotNil(t, sel.Selection)
	assert.Equal(t, 0, *sel.Selection)
	assert.Equal(t, []float64{0.1, 0.5, 0.2}, sel.Responses[0])
}

func TestSliceOffset(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodPut, "/api/slice/offset", map[string]float32{"d": 0.25})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float32(0.25), env.scene(t).Plane.D)

	resp = env.do(t, http.MethodPut, "/api/slice/offset", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	require.Eventually(t, func() bool {
		sess, err := env.store.LoadSession(store.DefaultSessionID)
		return err == nil && sess.PlaneD == 0.25
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFramePNG(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodGet, "/api/scene/frame.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "\x89PNG"))
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/scene/frame.png", nil)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp2.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/scene/slice.png", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodPost, "/api/exports", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job store.ExportJob
	decode(t, resp, &job)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		got, err := env.store.GetExportJob(job.ID)
		return err == nil && got.Status == store.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/api/exports/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &job)
	require.Len(t, job.Files, 1)
	assert.Equal(t, "New_OCS.ply", job.Files[0].Name)

	resp = env.do(t, http.MethodGet, "/api/exports/"+job.ID+"/files/New_OCS.ply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "New_OCS.ply")
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "ply\n"))

	resp = env.do(t, http.MethodDelete, "/api/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/exports/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.blobs.Keys())
}

func TestDismissWithoutError(t *testing.T) {
	env := newTestEnv(t)
	env.waitMeshes(t, 1)

	resp := env.do(t, http.MethodPost, "/api/error/dismiss", nil)
	var out map[string]bool
	decode(t, resp, &out)
	assert.False(t, out["dismissed"])
}
