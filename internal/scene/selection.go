package scene

// PointerEvent is one pointer input. X and Y are normalized to [-1,1] across
// the viewport; DX and DY are the movement since the previous event in
// pixels.
type PointerEvent struct {
	X  float32 `json:"x"`
	Y  float32 `json:"y"`
	DX float32 `json:"dx"`
	DY float32 `json:"dy"`

	stopped bool
}

// StopPropagation keeps later handlers from seeing the event.
func (e *PointerEvent) StopPropagation() { e.stopped = true }

// Stopped reports whether a handler consumed the event.
func (e *PointerEvent) Stopped() bool { return e != nil && e.stopped }

// Selection tracks the picked mesh. The zero value has nothing selected.
type Selection struct {
	index int
	set   bool
}

// OnMeshClick selects index i and stops ev so the same press does not also
// start a drag or commit a slice.
func (s *Selection) OnMeshClick(i int, ev *PointerEvent) {
	s.index, s.set = i, true
	if ev != nil {
		ev.StopPropagation()
	}
}

// Index returns the selected index, if any.
func (s *Selection) Index() (int, bool) { return s.index, s.set }

// Clear removes the selection.
func (s *Selection) Clear() { s.index, s.set = 0, false }

// EntryDeleted keeps the selection pointing at the same entry after entry
// i was removed, leaving remaining entries. Deleting the selected entry
// clears the selection.
func (s *Selection) EntryDeleted(i, remaining int) {
	if !s.set {
		return
	}
	switch {
	case i == s.index:
		s.Clear()
	case i < s.index:
		s.index--
	}
	if s.set && s.index >= remaining {
		s.Clear()
	}
}

// Pointer returns the selection as a nullable index.
func (s *Selection) Pointer() *int {
	if !s.set {
		return nil
	}
	i := s.index
	return &i
}
