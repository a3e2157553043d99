// Package scene is the composition root of the OCS viewer. A View owns the
// application state and wires pointer input to the rotation composer, the
// slice plane controller, the selection tracker and the two fetch
// orchestrators. A Loop runs a View on a single goroutine.
package scene

import (
	"errors"
	"fmt"

	"cogentcore.org/core/math32"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/fetch"
	"github.com/ocs-studio/server/internal/layout"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/transform"
)

// ErrIndexOutOfRange is returned for entry or mesh indices outside the
// current collections.
var ErrIndexOutOfRange = errors.New("index out of range")

// Backend is the pair of services feeding the scene.
type Backend interface {
	fetch.Source
	fetch.SliceSource
}

// Config holds the scene constants.
type Config struct {
	GridSpacing     float32
	SliceSpacing    float32
	MeshScale       float32
	SliceScale      float32
	DragSensitivity float32

	Logger   *zap.Logger
	Outcomes fetch.Outcomes
}

func (c *Config) applyDefaults() {
	if c.GridSpacing == 0 {
		c.GridSpacing = 1.5
	}
	if c.SliceSpacing == 0 {
		c.SliceSpacing = c.GridSpacing
	}
	if c.MeshScale == 0 {
		c.MeshScale = 0.5
	}
	if c.SliceScale == 0 {
		c.SliceScale = 5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// View is the scene state and its interaction rules. It is not safe for
// concurrent use; run it inside a Loop.
type View struct {
	cfg    Config
	logger *zap.Logger

	entries   []ocs.Entry
	rotation  *transform.Composer
	plane     *transform.PlaneController
	fetcher   *fetch.Orchestrator
	slicer    *fetch.SliceOrchestrator
	selection Selection

	preview    bool
	sliceEpoch uint64
	revision   uint64
	started    bool
	lastFetch  fetch.State

	onEntries []func([]ocs.Entry)
}

// NewView builds a view whose fetch completions are posted through
// dispatch.
func NewView(src Backend, dispatch fetch.Dispatcher, cfg Config) *View {
	cfg.applyDefaults()
	opts := fetch.Options{Logger: cfg.Logger, Outcomes: cfg.Outcomes}
	v := &View{
		cfg:      cfg,
		logger:   cfg.Logger.Named("scene"),
		entries:  []ocs.Entry{},
		rotation: transform.NewComposer(cfg.DragSensitivity),
		plane:    transform.NewPlaneController(),
		fetcher:  fetch.NewOrchestrator(src, dispatch, opts),
		slicer:   fetch.NewSliceOrchestrator(src, dispatch, opts),
	}
	v.fetcher.OnApply(v.touch)
	v.slicer.OnApply(v.touch)
	return v
}

// OnEntriesChanged registers fn to receive a copy of the entry list after
// every entry mutation.
func (v *View) OnEntriesChanged(fn func([]ocs.Entry)) {
	v.onEntries = append(v.onEntries, fn)
}

func (v *View) touch() { v.revision++ }

func (v *View) entriesChanged() {
	v.touch()
	for _, fn := range v.onEntries {
		fn(ocs.CloneEntries(v.entries))
	}
}

// Start seeds the scene on first use: an empty entry list gets one default
// entry, and a fetch is requested for whatever entries exist. Later calls
// do nothing.
func (v *View) Start() {
	if v.started {
		return
	}
	v.started = true
	if len(v.entries) == 0 {
		v.entries = append(v.entries, ocs.DefaultEntry())
		v.entriesChanged()
	}
	v.fetcher.Request()
}

// Pointer input

// PointerDown commits the slice when the preview is visible, then starts a
// drag. Events stopped by a mesh click are ignored.
func (v *View) PointerDown(ev *PointerEvent) {
	if ev.Stopped() {
		return
	}
	if v.preview {
		v.preview = false
		v.plane.Freeze()
		v.sliceEpoch++
		v.touch()
	}
	v.rotation.BeginDrag()
}

// PointerUp ends the drag.
func (v *View) PointerUp(ev *PointerEvent) {
	v.rotation.EndDrag()
}

// PointerMove tracks the pointer for the slice plane and rotates the
// solids while dragging.
func (v *View) PointerMove(ev *PointerEvent) {
	if ev == nil {
		return
	}
	v.plane.SetPointer(ev.X, ev.Y)
	if v.rotation.Drag(ev.DX, ev.DY) {
		v.touch()
	}
}

// MeshClick selects mesh i. It fails when i is not a displayed record.
func (v *View) MeshClick(i int, ev *PointerEvent) error {
	if i < 0 || i >= len(v.fetcher.Records()) {
		return fmt.Errorf("mesh %d: %w", i, ErrIndexOutOfRange)
	}
	v.selection.OnMeshClick(i, ev)
	v.touch()
	return nil
}

// ToggleSlicePreview shows or hides the live cutting plane and reports the
// new visibility.
func (v *View) ToggleSlicePreview() bool {
	v.preview = !v.preview
	v.plane.SetActive(v.preview)
	v.touch()
	return v.preview
}

// SetPlaneOffset sets the operator-controlled plane offset d.
func (v *View) SetPlaneOffset(d float32) {
	v.plane.SetOffset(d)
	v.touch()
}

// Entries

// Entries returns a copy of the entry list.
func (v *View) Entries() []ocs.Entry {
	return ocs.CloneEntries(v.entries)
}

// AddEntry appends e, or a default entry when e is nil, and returns its
// index.
func (v *View) AddEntry(e *ocs.Entry) (int, error) {
	entry := ocs.DefaultEntry()
	if e != nil {
		entry = e.Clone()
	}
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	v.entries = append(v.entries, entry)
	v.entriesChanged()
	return len(v.entries) - 1, nil
}

// UpdateEntry replaces entry i.
func (v *View) UpdateEntry(i int, e ocs.Entry) error {
	if i < 0 || i >= len(v.entries) {
		return fmt.Errorf("entry %d: %w", i, ErrIndexOutOfRange)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	v.entries[i] = e.Clone()
	v.entriesChanged()
	return nil
}

// DeleteEntry removes entry i. When the displayed records are aligned with
// the entries, record i goes too, and the selection follows its entry. A
// fetch in flight was sent with the old list, so it is superseded and the
// remaining entries are fetched again.
func (v *View) DeleteEntry(i int) error {
	if i < 0 || i >= len(v.entries) {
		return fmt.Errorf("entry %d: %w", i, ErrIndexOutOfRange)
	}
	v.fetcher.Supersede()
	if len(v.fetcher.Records()) == len(v.entries) {
		v.fetcher.RemoveRecord(i)
	}
	v.entries = append(v.entries[:i:i], v.entries[i+1:]...)
	v.selection.EntryDeleted(i, len(v.entries))
	v.entriesChanged()
	return nil
}

// ReplaceEntries installs a whole entry list, e.g. from a saved session,
// and requests a fetch.
func (v *View) ReplaceEntries(entries []ocs.Entry) error {
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	v.entries = ocs.CloneEntries(entries)
	v.selection.Clear()
	v.started = true
	v.fetcher.Request()
	v.entriesChanged()
	return nil
}

// ApplySpecies prefills entry i from a species record.
func (v *View) ApplySpecies(i int, key string, sp ocs.Species) error {
	if i < 0 || i >= len(v.entries) {
		return fmt.Errorf("entry %d: %w", i, ErrIndexOutOfRange)
	}
	e := v.entries[i].Clone()
	e.ApplySpecies(key, sp)
	if err := e.Validate(); err != nil {
		return err
	}
	v.entries[i] = e
	v.entriesChanged()
	return nil
}

// RequestFetch asks for the entries to be fetched on the next frame.
func (v *View) RequestFetch() {
	v.fetcher.Request()
}

// DismissError hides the error surface.
func (v *View) DismissError() bool {
	if v.fetcher.Dismiss() {
		v.touch()
		return true
	}
	return false
}

// Chart collaborator

// SelectedIndex returns the selection.
func (v *View) SelectedIndex() (int, bool) {
	return v.selection.Index()
}

// SelectedCurves returns the sampling curves for the chart: the selected
// record, or record 0 when nothing is selected.
func (v *View) SelectedCurves() (int, ocs.Curves, bool) {
	records := v.fetcher.Records()
	i, _ := v.selection.Index()
	if i < 0 || i >= len(records) {
		return 0, ocs.Curves{}, false
	}
	return i, records[i].Curves, true
}

// Records returns the displayed records together with the entry snapshot
// that produced them.
func (v *View) Records() ([]ocs.Entry, []ocs.RenderRecord) {
	return v.fetcher.Entries(), v.fetcher.Records()
}

// Frame loop

// Step advances one animation frame: it submits pending fetch and slice
// requests, repairs rotation drift, moves the live plane and returns the
// frame snapshot. A Success fetch state is shown for exactly one frame.
func (v *View) Step() Frame {
	v.Start()
	v.fetcher.Poll(v.entries)
	if v.slicer.Poll(v.sliceEpoch, v.plane.Plane(), len(v.entries)) {
		v.touch()
	}

	if _, err := v.rotation.Apply(); err != nil {
		v.logger.Warn("rotation re-orthonormalized", zap.Error(err))
	}
	before := v.plane.Plane()
	if p, ok := v.plane.Update(v.rotation.Quat()); ok && p != before {
		v.touch()
	}
	if st := v.fetcher.State(); st != v.lastFetch {
		v.lastFetch = st
		v.touch()
	}

	f := v.Frame()
	v.fetcher.Tick()
	return f
}

// Frame returns the current snapshot without advancing.
func (v *View) Frame() Frame {
	sel, selected := v.selection.Index()
	f := Frame{
		Revision:     v.revision,
		Rotation:     v.rotation.Matrix(),
		Quat:         v.rotation.Quat(),
		Plane:        v.plane.Plane(),
		PlaneQuat:    transform.PlaneQuat(v.plane.Plane()),
		SlicePreview: v.preview,
		SliceEpoch:   v.sliceEpoch,
		SlicePending: v.slicer.Pending(),
		Fetch:        v.fetcher.State(),
		Selection:    v.selection.Pointer(),
		Entries:      len(v.entries),
	}

	displayed, records := v.fetcher.Entries(), v.fetcher.Records()
	f.Meshes = place(records, layout.Grid(len(records), v.cfg.GridSpacing), v.cfg.MeshScale, func(i int) string {
		if i < len(displayed) {
			return displayed[i].Name
		}
		return ""
	})
	for i := range f.Meshes {
		f.Meshes[i].Selected = selected && i == sel
	}

	slices := v.slicer.Records()
	f.Slices = place(slices, layout.Grid(len(slices), v.cfg.SliceSpacing), v.cfg.SliceScale, func(i int) string {
		if i < len(displayed) {
			return displayed[i].Name
		}
		return ""
	})
	return f
}

func place(records []ocs.RenderRecord, at []math32.Vector3, scale float32, name func(int) string) []Mesh {
	meshes := make([]Mesh, len(records))
	for i := range records {
		r := &records[i]
		meshes[i] = Mesh{
			Index:         i,
			Name:          name(i),
			Position:      at[i],
			Scale:         scale,
			VertexCount:   r.Geometry.VertexCount(),
			TriangleCount: r.Geometry.TriangleCount(),
			Geometry:      &r.Geometry,
			Shader:        &r.Shader,
		}
	}
	return meshes
}

// Close cancels outstanding requests.
func (v *View) Close() {
	v.fetcher.Close()
	v.slicer.Close()
}
