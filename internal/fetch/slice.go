package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
)

// SliceOrchestrator fetches cross-sections on commit. It is edge-triggered
// by the slice epoch: Poll submits once per epoch increment, however many
// times it is called. Failures are logged and leave the previous slice
// records displayed.
//
// All methods must be called from the dispatcher's goroutine.
type SliceOrchestrator struct {
	source   SliceSource
	dispatch Dispatcher
	logger   *zap.Logger
	outcomes Outcomes

	base     context.Context
	stop     context.CancelFunc
	inflight context.CancelFunc

	watermark uint64
	lastID    uint64
	pending   bool
	records   []ocs.RenderRecord
	plane     ocs.SlicePlane

	onApply []func()
}

// NewSliceOrchestrator creates an orchestrator with no slice displayed.
func NewSliceOrchestrator(source SliceSource, dispatch Dispatcher, opts Options) *SliceOrchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var outcomes Outcomes = nopOutcomes{}
	if opts.Outcomes != nil {
		outcomes = opts.Outcomes
	}
	base, stop := context.WithCancel(context.Background())
	return &SliceOrchestrator{
		source:   source,
		dispatch: dispatch,
		logger:   logger.Named("slice"),
		outcomes: outcomes,
		base:     base,
		stop:     stop,
		records:  []ocs.RenderRecord{},
	}
}

// OnApply registers fn to run after new slice records are installed.
func (s *SliceOrchestrator) OnApply(fn func()) {
	s.onApply = append(s.onApply, fn)
}

// Poll compares epoch with the last processed epoch and, on an increment,
// requests the slice of n solids by plane. A commit with no solids is
// consumed without a request. It reports whether a request was submitted.
func (s *SliceOrchestrator) Poll(epoch uint64, plane ocs.SlicePlane, n int) bool {
	if epoch <= s.watermark {
		return false
	}
	s.watermark = epoch
	if n <= 0 {
		s.logger.Debug("slice commit ignored without entries", zap.Uint64("epoch", epoch))
		return false
	}

	if s.inflight != nil {
		s.inflight()
	}
	s.lastID++
	id := s.lastID
	ctx, cancel := context.WithCancel(s.base)
	s.inflight = cancel
	s.pending = true

	s.logger.Info("slice commit",
		zap.Uint64("epoch", epoch),
		zap.Uint64("request_id", id),
		zap.Float32("a", plane.A), zap.Float32("b", plane.B),
		zap.Float32("c", plane.C), zap.Float32("d", plane.D),
		zap.Int("num_ocs", n))

	go func() {
		records, err := s.source.FetchSlice(ctx, plane, n)
		s.dispatch.Post(func() { s.complete(id, plane, records, err) })
	}()
	return true
}

func (s *SliceOrchestrator) complete(id uint64, plane ocs.SlicePlane, records []ocs.RenderRecord, err error) bool {
	if id != s.lastID {
		s.outcomes.Slice(metrics.OutcomeStale)
		return false
	}
	s.pending = false
	if s.inflight != nil {
		s.inflight()
		s.inflight = nil
	}
	if err != nil {
		s.logger.Warn("slice request failed", zap.Uint64("request_id", id), zap.Error(err))
		s.outcomes.Slice(metrics.OutcomeError)
		return true
	}
	s.records = records
	s.plane = plane
	s.outcomes.Slice(metrics.OutcomeSuccess)
	for _, fn := range s.onApply {
		fn()
	}
	return true
}

// Pending reports whether a slice request is outstanding.
func (s *SliceOrchestrator) Pending() bool { return s.pending }

// Records returns the displayed slice records.
func (s *SliceOrchestrator) Records() []ocs.RenderRecord { return s.records }

// Plane returns the plane that produced Records.
func (s *SliceOrchestrator) Plane() ocs.SlicePlane { return s.plane }

// Watermark returns the last processed slice epoch.
func (s *SliceOrchestrator) Watermark() uint64 { return s.watermark }

// Close cancels any in-flight request.
func (s *SliceOrchestrator) Close() {
	s.lastID++
	s.stop()
}
