package api

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/internal/store"
)

// SessionSaver persists the entry list and plane offset off the scene
// loop. Changes are coalesced: only the latest state is written.
type SessionSaver struct {
	store  *store.Store
	id     string
	logger *zap.Logger

	mu      sync.Mutex
	entries []ocs.Entry
	planeD  float32
	loaded  bool
	dirty   chan struct{}
}

// NewSessionSaver returns a saver for session id.
func NewSessionSaver(st *store.Store, id string, logger *zap.Logger) *SessionSaver {
	if id == "" {
		id = store.DefaultSessionID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionSaver{
		store:  st,
		id:     id,
		logger: logger.Named("session"),
		dirty:  make(chan struct{}, 1),
	}
}

// ID returns the session id, or the default id for a nil saver.
func (s *SessionSaver) ID() string {
	if s == nil {
		return store.DefaultSessionID
	}
	return s.id
}

// Restore loads the saved session into the scene. A missing session is not
// an error; the scene then starts with its default entry.
func (s *SessionSaver) Restore(ctx context.Context, loop *scene.Loop) error {
	sess, err := s.store.LoadSession(s.id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.planeD = sess.PlaneD
	s.mu.Unlock()
	if len(sess.Entries) == 0 {
		return nil
	}
	err = onView(ctx, loop, func(v *scene.View) error {
		v.SetPlaneOffset(sess.PlaneD)
		return v.ReplaceEntries(sess.Entries)
	})
	if err != nil {
		return err
	}
	s.logger.Info("session restored", zap.String("session_id", s.id), zap.Int("entries", len(sess.Entries)))
	return nil
}

// onView runs fn directly while the loop has not started, so a restored
// session replaces the start-up default before it is fetched, and on the
// loop goroutine afterwards.
func onView(ctx context.Context, loop *scene.Loop, fn func(v *scene.View) error) error {
	err := loop.Setup(fn)
	if errors.Is(err, scene.ErrRunning) {
		return loop.Do(ctx, fn)
	}
	return err
}

// Attach subscribes the saver to entry changes. Entries already present
// are recorded at once; an empty list is left for the scene's start-up
// default so a saved session is never overwritten with nothing.
func (s *SessionSaver) Attach(ctx context.Context, loop *scene.Loop) error {
	return onView(ctx, loop, func(v *scene.View) error {
		v.OnEntriesChanged(s.SetEntries)
		if entries := v.Entries(); len(entries) > 0 {
			s.SetEntries(entries)
		}
		return nil
	})
}

// SetEntries records a new entry list. It is safe to call from the scene
// loop.
func (s *SessionSaver) SetEntries(entries []ocs.Entry) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.entries = entries
	s.loaded = true
	s.mu.Unlock()
	s.notify()
}

// SetPlaneOffset records a new plane offset.
func (s *SessionSaver) SetPlaneOffset(d float32) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.planeD = d
	s.mu.Unlock()
	s.notify()
}

func (s *SessionSaver) notify() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Run writes pending changes until ctx is done, then flushes once more.
func (s *SessionSaver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return
		case <-s.dirty:
			s.Flush()
		}
	}
}

// Flush writes the current state. Nothing is written before the first
// entry list arrives so a bare plane offset cannot wipe saved entries.
func (s *SessionSaver) Flush() {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return
	}
	sess := &store.Session{ID: s.id, Entries: ocs.CloneEntries(s.entries), PlaneD: s.planeD}
	s.mu.Unlock()

	if err := s.store.SaveSession(sess); err != nil {
		s.logger.Error("failed to persist session", zap.String("session_id", s.id), zap.Error(err))
		return
	}
	s.logger.Debug("session persisted", zap.String("session_id", s.id), zap.Int("entries", len(sess.Entries)))
}
