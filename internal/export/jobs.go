package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/store"
)

// ErrQueueFull is returned when no more jobs can be accepted.
var ErrQueueFull = errors.New("export queue is full; try again later")

// Request is a snapshot of the displayed solids to export.
type Request struct {
	SessionID string
	Entries   []ocs.Entry
	Records   []ocs.RenderRecord
}

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int // Max concurrent export jobs (default 2)
	QueueSize     int // Pending job capacity (default 32)
	RetentionDays int // Days to keep finished jobs and their files (default 7)
	CleanupPeriod time.Duration
}

// runningJob is a job a worker has picked up. done is closed once its
// final status and files are recorded.
type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// JobManager runs export jobs on a worker pool. Job status lives in the
// SQLite store; the geometry to write is held in memory until a worker
// picks the job up.
type JobManager struct {
	cfg     JobManagerConfig
	store   *store.Store
	blobs   BlobStore
	logger  *zap.Logger
	metrics *metrics.Collectors

	queue    chan string
	inputs   map[string]Request
	running  map[string]*runningJob
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewJobManager creates a job manager. The caller owns st and closes it
// after Stop.
func NewJobManager(cfg JobManagerConfig, st *store.Store, blobs BlobStore, logger *zap.Logger, m *metrics.Collectors) *JobManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobManager{
		cfg:     cfg,
		store:   st,
		blobs:   blobs,
		logger:  logger,
		metrics: m,
		queue:   make(chan string, cfg.QueueSize),
		inputs:  make(map[string]Request),
		running: make(map[string]*runningJob),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the worker goroutines and cleanup ticker. Jobs left
// unfinished by a previous process are failed since their inputs are gone.
func (jm *JobManager) Start() {
	if n, err := jm.store.MarkUnfinishedAsFailed("server restarted"); err != nil {
		jm.logger.Error("failed to mark unfinished export jobs as failed", zap.Error(err))
	} else if n > 0 {
		jm.logger.Info("failed unfinished export jobs", zap.Int64("count", n))
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}
	go jm.cleaner()
}

// Stop cancels running jobs and waits for the workers.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		jm.mu.Lock()
		close(jm.stopCh)
		for _, rj := range jm.running {
			rj.cancel()
		}
		close(jm.queue)
		jm.mu.Unlock()
		jm.wg.Wait()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		select {
		case <-jm.stopCh:
			jm.mu.Lock()
			_, ok := jm.inputs[jobID]
			delete(jm.inputs, jobID)
			jm.mu.Unlock()
			if ok {
				jm.finish(jobID, store.JobStatusFailed, "server stopped")
			}
			continue
		default:
		}
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	jm.mu.Lock()
	req, ok := jm.inputs[jobID]
	delete(jm.inputs, jobID)
	if !ok {
		// cancelled while queued
		jm.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}
	jm.running[jobID] = rj
	jm.mu.Unlock()

	defer func() {
		cancel()
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
		close(rj.done)
	}()

	if err := jm.store.UpdateExportJobStarted(jobID); err != nil {
		jm.logger.Error("failed to mark export job started", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	files, execErr := jm.write(ctx, jobID, req)
	if len(files) > 0 {
		if err := jm.store.SetExportJobFiles(jobID, files); err != nil {
			jm.logger.Error("failed to record export files", zap.String("job_id", jobID), zap.Error(err))
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		jm.finish(jobID, store.JobStatusCancelled, "cancelled by user")
	case execErr != nil:
		jm.finish(jobID, store.JobStatusFailed, execErr.Error())
	default:
		jm.finish(jobID, store.JobStatusCompleted, "")
	}
}

func (jm *JobManager) finish(jobID string, status store.JobStatus, msg string) {
	if err := jm.store.UpdateExportJobStatus(jobID, status, msg); err != nil {
		jm.logger.Error("failed to update export job", zap.String("job_id", jobID), zap.Error(err))
	}
	jm.metrics.ExportFinished(string(status))
	jm.logger.Info("export job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.String("error", msg),
	)
}

// write encodes one PLY per record and uploads it under <job>/<file>.
func (jm *JobManager) write(ctx context.Context, jobID string, req Request) ([]store.ExportFile, error) {
	names := FileNames(req.Entries, len(req.Records))
	files := make([]store.ExportFile, 0, len(req.Records))
	var buf bytes.Buffer
	for i := range req.Records {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		buf.Reset()
		g := req.Records[i].Geometry
		if err := WritePLY(&buf, &g, "ocs "+names[i]); err != nil {
			return files, fmt.Errorf("failed to encode %s: %w", names[i], err)
		}
		key := jobID + "/" + names[i]
		info, err := jm.blobs.Put(ctx, key, bytes.NewReader(buf.Bytes()), ContentType)
		if err != nil {
			return files, fmt.Errorf("failed to store %s: %w", names[i], err)
		}
		files = append(files, store.ExportFile{Name: names[i], Key: key, Bytes: info.Size})
	}
	return files, nil
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup(context.Background())
		}
	}
}

func (jm *JobManager) cleanup(ctx context.Context) {
	jobs, err := jm.store.DeleteExpiredJobs(jm.cfg.RetentionDays)
	if err != nil {
		jm.logger.Error("export cleanup failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		jm.deleteFiles(ctx, job)
	}
	if len(jobs) > 0 {
		jm.logger.Info("cleaned up expired export jobs", zap.Int("count", len(jobs)))
	}
}

func (jm *JobManager) deleteFiles(ctx context.Context, job *store.ExportJob) {
	for _, f := range job.Files {
		if err := jm.blobs.Delete(ctx, f.Key); err != nil {
			jm.logger.Warn("failed to delete export file", zap.String("key", f.Key), zap.Error(err))
		}
	}
}

// Submit creates a new job and enqueues it for execution.
func (jm *JobManager) Submit(req Request) (*store.ExportJob, error) {
	if len(req.Records) == 0 {
		return nil, ErrNothingToExport
	}

	job := &store.ExportJob{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Status:    store.JobStatusQueued,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateExportJob(job); err != nil {
		return nil, err
	}

	// The send happens under mu so Stop cannot close the queue in between.
	jm.mu.Lock()
	queued := false
	select {
	case <-jm.stopCh:
	default:
		select {
		case jm.queue <- job.ID:
			jm.inputs[job.ID] = req
			queued = true
		default:
		}
	}
	jm.mu.Unlock()

	if !queued {
		jm.finish(job.ID, store.JobStatusFailed, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}
	jm.logger.Info("export job queued", zap.String("job_id", job.ID), zap.Int("files", len(req.Records)))
	return job, nil
}

// Get returns a job by ID.
func (jm *JobManager) Get(id string) (*store.ExportJob, error) {
	return jm.store.GetExportJob(id)
}

// Cancel attempts to cancel a queued or running job.
func (jm *JobManager) Cancel(id string) bool {
	_, ok := jm.cancel(id)
	return ok
}

// cancel cancels a queued or running job. For a running job it returns a
// channel closed once the worker has recorded the outcome.
func (jm *JobManager) cancel(id string) (<-chan struct{}, bool) {
	jm.mu.Lock()
	rj, running := jm.running[id]
	_, queued := jm.inputs[id]
	delete(jm.inputs, id)
	jm.mu.Unlock()

	if running {
		rj.cancel()
		return rj.done, true
	}
	if queued {
		jm.finish(id, store.JobStatusCancelled, "cancelled before start")
		return nil, true
	}
	return nil, false
}

// Delete cancels a job, removes its files and deletes its record. A running
// job is waited for first so files it wrote before stopping go too.
func (jm *JobManager) Delete(ctx context.Context, id string) error {
	if _, err := jm.store.GetExportJob(id); err != nil {
		return err
	}
	if done, _ := jm.cancel(id); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	job, err := jm.store.GetExportJob(id)
	if err != nil {
		return err
	}
	jm.deleteFiles(ctx, job)
	return jm.store.DeleteExportJob(id)
}

// Open returns one exported file of a completed job.
func (jm *JobManager) Open(ctx context.Context, id, name string) (Info, io.ReadCloser, error) {
	job, err := jm.store.GetExportJob(id)
	if err != nil {
		return Info{}, nil, err
	}
	for _, f := range job.Files {
		if f.Name == name {
			return jm.blobs.Get(ctx, f.Key)
		}
	}
	return Info{}, nil, fmt.Errorf("%s in job %s: %w", name, id, ErrBlobNotFound)
}
