package fetch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/backend"
	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
)

// Status is the primary fetch state shown by the scene overlay.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	for _, c := range []Status{StatusIdle, StatusLoading, StatusSuccess, StatusError} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown fetch status %q", b)
}

// State is the observable fetch state. Message and Detail are set only for
// StatusError.
type State struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID uint64 `json:"requestId"`
}

// Options configures an Orchestrator.
type Options struct {
	Logger   *zap.Logger
	Outcomes Outcomes
}

// Orchestrator runs the primary fetch cycle. Fetch requests are counted in
// an epoch; Poll submits when the requested epoch is ahead of the processed
// watermark and always advances the watermark. Each submission gets a
// monotonic id and cancels its predecessor, and only the completion carrying
// the latest id is applied.
//
// All methods must be called from the dispatcher's goroutine.
type Orchestrator struct {
	source   Source
	dispatch Dispatcher
	logger   *zap.Logger
	outcomes Outcomes

	base     context.Context
	stop     context.CancelFunc
	inflight context.CancelFunc

	requested uint64
	processed uint64
	lastID    uint64

	state   State
	entries []ocs.Entry
	records []ocs.RenderRecord

	onApply []func()
}

// NewOrchestrator creates an idle orchestrator with nothing displayed.
func NewOrchestrator(source Source, dispatch Dispatcher, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var outcomes Outcomes = nopOutcomes{}
	if opts.Outcomes != nil {
		outcomes = opts.Outcomes
	}
	base, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		source:   source,
		dispatch: dispatch,
		logger:   logger.Named("fetch"),
		outcomes: outcomes,
		base:     base,
		stop:     stop,
		entries:  []ocs.Entry{},
		records:  []ocs.RenderRecord{},
	}
}

// OnApply registers fn to run after a successful result replaces the
// displayed records.
func (o *Orchestrator) OnApply(fn func()) {
	o.onApply = append(o.onApply, fn)
}

// Request asks for a fetch on the next Poll.
func (o *Orchestrator) Request() {
	o.requested++
}

// Supersede drops the in-flight request, so its completion is discarded as
// stale, and asks for a fresh fetch on the next Poll. It reports false and
// does nothing when no request is in flight.
func (o *Orchestrator) Supersede() bool {
	if o.state.Status != StatusLoading {
		return false
	}
	if o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}
	o.lastID++
	o.requested++
	return true
}

// Pending reports whether a requested fetch has not been submitted yet.
func (o *Orchestrator) Pending() bool {
	return o.requested > o.processed
}

// Poll submits entries if a fetch was requested since the last Poll. The
// watermark advances whether or not a submission happened, so a trigger can
// never stay latched. It reports whether a request was submitted.
func (o *Orchestrator) Poll(entries []ocs.Entry) (submitted bool) {
	defer func() { o.processed = o.requested }()
	if !o.Pending() {
		return false
	}
	o.submit(entries)
	return true
}

func (o *Orchestrator) submit(entries []ocs.Entry) {
	if o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}
	o.lastID++
	id := o.lastID
	snapshot := ocs.CloneEntries(entries)

	o.state = State{Status: StatusLoading, RequestID: id}
	o.logger.Info("fetch submitted", zap.Uint64("request_id", id), zap.Int("entries", len(snapshot)))

	if len(snapshot) == 0 {
		o.complete(id, snapshot, []ocs.RenderRecord{}, nil)
		return
	}

	ctx, cancel := context.WithCancel(o.base)
	o.inflight = cancel
	go func() {
		records, err := o.source.FetchOCS(ctx, snapshot)
		o.dispatch.Post(func() { o.complete(id, snapshot, records, err) })
	}()
}

// complete applies a finished request. It returns false for a superseded
// request.
func (o *Orchestrator) complete(id uint64, entries []ocs.Entry, records []ocs.RenderRecord, err error) bool {
	if id != o.lastID {
		o.logger.Debug("fetch discarded as stale",
			zap.Uint64("request_id", id), zap.Uint64("latest", o.lastID))
		o.outcomes.Fetch(metrics.OutcomeStale)
		return false
	}
	if o.inflight != nil {
		o.inflight()
		o.inflight = nil
	}

	if err != nil {
		be := backend.AsError(err)
		o.state = State{Status: StatusError, Message: be.Message, Detail: be.Detail, RequestID: id}
		o.logger.Warn("fetch failed",
			zap.Uint64("request_id", id),
			zap.Stringer("kind", be.Kind),
			zap.String("message", be.Message),
			zap.String("detail", be.Detail))
		o.outcomes.Fetch(metrics.OutcomeError)
		return true
	}

	o.entries = entries
	o.records = records
	o.state = State{Status: StatusSuccess, RequestID: id}
	o.logger.Info("fetch applied", zap.Uint64("request_id", id), zap.Int("records", len(records)))
	o.outcomes.Fetch(metrics.OutcomeSuccess)
	for _, fn := range o.onApply {
		fn()
	}
	return true
}

// Tick moves a shown Success back to Idle. Called once per frame after the
// frame has been produced.
func (o *Orchestrator) Tick() {
	if o.state.Status == StatusSuccess {
		o.state.Status = StatusIdle
	}
}

// Dismiss clears an Error.
func (o *Orchestrator) Dismiss() bool {
	if o.state.Status != StatusError {
		return false
	}
	o.state = State{Status: StatusIdle, RequestID: o.state.RequestID}
	return true
}

// State returns the current fetch state.
func (o *Orchestrator) State() State { return o.state }

// Records returns the displayed records. The slice must not be modified.
func (o *Orchestrator) Records() []ocs.RenderRecord { return o.records }

// Entries returns the entry snapshot that produced Records.
func (o *Orchestrator) Entries() []ocs.Entry { return o.entries }

// RemoveRecord drops the displayed record at i, keeping the displayed pair
// aligned. It is a no-op when i is out of range.
func (o *Orchestrator) RemoveRecord(i int) {
	if i < 0 || i >= len(o.records) || len(o.records) != len(o.entries) {
		return
	}
	o.records = append(o.records[:i:i], o.records[i+1:]...)
	o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
}

// Close cancels any in-flight request. Completions that still arrive are
// discarded as stale.
func (o *Orchestrator) Close() {
	o.lastID++
	o.stop()
}
