package scene

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-studio/server/internal/fetch"
	"github.com/ocs-studio/server/internal/ocs"
)

// recordingBackend answers like instantBackend and remembers the size of
// every OCS batch it was asked for.
type recordingBackend struct {
	instantBackend
	mu      sync.Mutex
	batches []int
}

func (b *recordingBackend) FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error) {
	b.mu.Lock()
	b.batches = append(b.batches, len(entries))
	b.mu.Unlock()
	return b.instantBackend.FetchOCS(ctx, entries)
}

func (b *recordingBackend) Batches() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.batches...)
}

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := NewLoop(instantBackend{}, LoopConfig{FrameRate: 200})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func TestLoopFetchesDefaultEntry(t *testing.T) {
	l := startLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.Eventually(t, func() bool {
		f, err := l.Snapshot(ctx)
		return err == nil && len(f.Meshes) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoopDoRunsOnLoop(t *testing.T) {
	l := startLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	err := l.Do(ctx, func(v *View) error {
		if _, err := v.AddEntry(nil); err != nil {
			return err
		}
		v.RequestFetch()
		n = len(v.Entries())
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	require.Eventually(t, func() bool {
		f, err := l.Snapshot(ctx)
		return err == nil && len(f.Meshes) == f.Entries && f.Fetch.Status != fetch.StatusLoading
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoopSubscribeReceivesFrames(t *testing.T) {
	l := startLoop(t)
	frames, unsubscribe := l.Subscribe()
	defer unsubscribe()

	select {
	case f := <-frames:
		assert.GreaterOrEqual(t, f.Entries, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("no frame published")
	}
}

func TestLoopDoAfterStop(t *testing.T) {
	l := NewLoop(instantBackend{}, LoopConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)

	err := l.Do(context.Background(), func(*View) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.NotPanics(t, func() { l.Post(func() {}) })
}

func TestLoopSetupReplacesDefaultBeforeFirstFrame(t *testing.T) {
	b := &recordingBackend{}
	l := NewLoop(b, LoopConfig{FrameRate: 200})
	require.NoError(t, l.Setup(func(v *View) error {
		return v.ReplaceEntries(namedEntries("bee", "wasp"))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		f, err := l.Snapshot(ctx)
		return err == nil && len(f.Meshes) == 2 && f.Fetch.Status != fetch.StatusLoading
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{2}, b.Batches())

	err := l.Setup(func(*View) error { return nil })
	assert.ErrorIs(t, err, ErrRunning)
}
