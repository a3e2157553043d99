package scene

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Do once the loop has exited.
	ErrStopped = errors.New("scene loop stopped")
	// ErrRunning is returned by Setup once Run has started.
	ErrRunning = errors.New("scene loop already running")
)

// LoopConfig configures a Loop.
type LoopConfig struct {
	FrameRate int
	Scene     Config
	// OnFrame, when set, observes every stepped frame on the loop goroutine.
	OnFrame func(Frame)
}

// Loop owns a View on one goroutine. Commands and fetch completions are
// queued closures; frames are stepped on a ticker. Nothing else touches the
// View, so no locking is needed around scene state.
type Loop struct {
	view     *View
	cmds     chan func()
	interval time.Duration
	onFrame  func(Frame)
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once

	setupMu sync.Mutex
	running bool

	subsMu sync.Mutex
	subs   map[chan Frame]struct{}
}

// NewLoop creates a loop and its View. Call Run to start it.
func NewLoop(src Backend, cfg LoopConfig) *Loop {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	cfg.Scene.applyDefaults()
	l := &Loop{
		cmds:     make(chan func(), 256),
		interval: time.Second / time.Duration(cfg.FrameRate),
		onFrame:  cfg.OnFrame,
		logger:   cfg.Scene.Logger.Named("loop"),
		done:     make(chan struct{}),
		subs:     make(map[chan Frame]struct{}),
	}
	l.view = NewView(src, l, cfg.Scene)
	return l
}

// Post queues fn to run on the loop goroutine. After the loop stops, fn is
// dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.cmds <- fn:
	case <-l.done:
	}
}

// Do runs fn on the loop goroutine and waits for its result.
func (l *Loop) Do(ctx context.Context, fn func(v *View) error) error {
	errc := make(chan error, 1)
	cmd := func() { errc <- fn(l.view) }
	select {
	case l.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

// Setup runs fn on the View before Run starts, so start-up state such as a
// restored session is in place before the first frame. Run waits for a
// Setup in progress. It returns ErrRunning once Run has started.
func (l *Loop) Setup(fn func(v *View) error) error {
	l.setupMu.Lock()
	defer l.setupMu.Unlock()
	if l.running {
		return ErrRunning
	}
	return fn(l.view)
}

// Snapshot returns the current frame.
func (l *Loop) Snapshot(ctx context.Context) (Frame, error) {
	var f Frame
	err := l.Do(ctx, func(v *View) error {
		f = v.Frame()
		return nil
	})
	return f, err
}

// Subscribe returns a channel receiving the latest frame after every step.
// Slow readers only ever see the newest frame. Call cancel to unsubscribe.
func (l *Loop) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 1)
	l.subsMu.Lock()
	l.subs[ch] = struct{}{}
	l.subsMu.Unlock()
	return ch, func() {
		l.subsMu.Lock()
		delete(l.subs, ch)
		l.subsMu.Unlock()
	}
}

func (l *Loop) publish(f Frame) {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()
	for ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f
	}
}

// Run processes commands and frames until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	l.setupMu.Lock()
	l.running = true
	l.setupMu.Unlock()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer l.stop()

	l.logger.Info("scene loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scene loop stopped")
			return
		case fn := <-l.cmds:
			fn()
		case <-ticker.C:
			l.step()
		}
	}
}

func (l *Loop) step() Frame {
	f := l.view.Step()
	if l.onFrame != nil {
		l.onFrame(f)
	}
	l.publish(f)
	return f
}

// StepNow advances one frame on the loop goroutine and returns it.
func (l *Loop) StepNow(ctx context.Context) (Frame, error) {
	var f Frame
	err := l.Do(ctx, func(*View) error {
		f = l.step()
		return nil
	})
	return f, err
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.view.Close()
	})
}
