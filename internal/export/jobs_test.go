package export

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/store"
)

func newManager(t *testing.T) (*JobManager, *store.Store, *MemoryStore) {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ocs.sqlite"))
	require.NoError(t, err)
	blobs := NewMemoryStore()
	jm := NewJobManager(JobManagerConfig{MaxConcurrent: 1}, st, blobs, nil, nil)
	t.Cleanup(func() {
		jm.Stop()
		st.Close()
	})
	return jm, st, blobs
}

func exportRequest(names ...string) Request {
	req := Request{SessionID: store.DefaultSessionID}
	for _, n := range names {
		req.Entries = append(req.Entries, ocs.Entry{Name: n})
		req.Records = append(req.Records, ocs.RenderRecord{Geometry: triangle()})
	}
	return req
}

func waitFinished(t *testing.T, jm *JobManager, id string) *store.ExportJob {
	t.Helper()
	var job *store.ExportJob
	require.Eventually(t, func() bool {
		var err error
		job, err = jm.Get(id)
		return err == nil && job.Status.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestExportJobWritesOneFilePerRecord(t *testing.T) {
	jm, _, blobs := newManager(t)
	jm.Start()

	job, err := jm.Submit(exportRequest("bee", ""))
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusQueued, job.Status)

	done := waitFinished(t, jm, job.ID)
	require.Equal(t, store.JobStatusCompleted, done.Status, done.Error)
	require.Len(t, done.Files, 2)
	assert.Equal(t, "bee.ply", done.Files[0].Name)
	assert.Equal(t, "geometry1.ply", done.Files[1].Name)
	assert.Equal(t, job.ID+"/bee.ply", done.Files[0].Key)
	assert.Positive(t, done.Files[0].Bytes)
	assert.Len(t, blobs.Keys(), 2)

	_, rc, err := jm.Open(context.Background(), job.ID, "bee.ply")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.True(t, strings.HasPrefix(string(b), "ply\n"))

	_, _, err = jm.Open(context.Background(), job.ID, "wasp.ply")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	require.NoError(t, jm.Delete(context.Background(), job.ID))
	assert.Empty(t, blobs.Keys())
	_, err = jm.Get(job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// blockingBlobs stores each file, then holds the upload open until the
// job's context is cancelled.
type blockingBlobs struct {
	*MemoryStore
	stored chan string
}

func (b *blockingBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (Info, error) {
	info, err := b.MemoryStore.Put(ctx, key, r, contentType)
	if err != nil {
		return info, err
	}
	b.stored <- key
	<-ctx.Done()
	return info, nil
}

func TestExportDeleteRunningJobRemovesWrittenFiles(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ocs.sqlite"))
	require.NoError(t, err)
	defer st.Close()
	blobs := &blockingBlobs{MemoryStore: NewMemoryStore(), stored: make(chan string, 4)}
	jm := NewJobManager(JobManagerConfig{MaxConcurrent: 1}, st, blobs, nil, nil)
	jm.Start()
	defer jm.Stop()

	job, err := jm.Submit(exportRequest("bee", "wasp"))
	require.NoError(t, err)

	select {
	case key := <-blobs.stored:
		assert.Equal(t, job.ID+"/bee.ply", key)
	case <-time.After(5 * time.Second):
		t.Fatal("export never started writing")
	}
	running, err := jm.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobStatusRunning, running.Status)
	require.Empty(t, running.Files)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, jm.Delete(ctx, job.ID))
	assert.Empty(t, blobs.Keys())
	_, err = jm.Get(job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExportNothingToExport(t *testing.T) {
	jm, _, _ := newManager(t)
	_, err := jm.Submit(Request{})
	assert.ErrorIs(t, err, ErrNothingToExport)
}

func TestExportInvalidGeometryFails(t *testing.T) {
	jm, _, _ := newManager(t)
	jm.Start()

	req := exportRequest("bad")
	req.Records[0].Geometry.Indices = []uint32{0, 1, 9}
	job, err := jm.Submit(req)
	require.NoError(t, err)

	done := waitFinished(t, jm, job.ID)
	assert.Equal(t, store.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "bad.ply")
}

func TestExportCancelQueued(t *testing.T) {
	// Workers are not started, so the job stays queued.
	jm, _, _ := newManager(t)
	job, err := jm.Submit(exportRequest("bee"))
	require.NoError(t, err)

	assert.True(t, jm.Cancel(job.ID))
	got, err := jm.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusCancelled, got.Status)
	assert.False(t, jm.Cancel(job.ID))
}

func TestExportQueueFull(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "ocs.sqlite"))
	require.NoError(t, err)
	defer st.Close()
	jm := NewJobManager(JobManagerConfig{QueueSize: 1}, st, NewMemoryStore(), nil, nil)
	defer jm.Stop()

	_, err = jm.Submit(exportRequest("a"))
	require.NoError(t, err)
	_, err = jm.Submit(exportRequest("b"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestExportStartFailsUnfinishedJobs(t *testing.T) {
	jm, st, _ := newManager(t)
	require.NoError(t, st.CreateExportJob(&store.ExportJob{ID: "left", Status: store.JobStatusQueued, CreatedAt: time.Now()}))

	jm.Start()
	got, err := st.GetExportJob("left")
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusFailed, got.Status)
	assert.Equal(t, "server restarted", got.Error)
}

func TestExportCleanupRemovesFiles(t *testing.T) {
	jm, st, blobs := newManager(t)
	jm.cfg.RetentionDays = -1
	jm.Start()

	job, err := jm.Submit(exportRequest("bee"))
	require.NoError(t, err)
	waitFinished(t, jm, job.ID)
	require.Len(t, blobs.Keys(), 1)

	jm.cleanup(context.Background())
	assert.Empty(t, blobs.Keys())
	_, err = st.GetExportJob(job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
