package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ocs-studio/server/internal/scene"
)

// pointerMessage is one pointer input from a client. Mesh names the solid
// under the pointer, if any; a press on a mesh selects it and is not
// treated as a drag start or slice commit.
type pointerMessage struct {
	Type string  `json:"type"`
	X    float32 `json:"x"`
	Y    float32 `json:"y"`
	DX   float32 `json:"dx"`
	DY   float32 `json:"dy"`
	Mesh *int    `json:"mesh,omitempty"`
}

const (
	pointerDown  = "down"
	pointerUp    = "up"
	pointerMove  = "move"
	pointerClick = "click"
)

// apply runs the message against v in handler order: mesh click first,
// then the canvas handler, which skips events the click stopped.
func (m pointerMessage) apply(v *scene.View) error {
	ev := &scene.PointerEvent{X: m.X, Y: m.Y, DX: m.DX, DY: m.DY}
	switch m.Type {
	case pointerDown:
		if m.Mesh != nil {
			if err := v.MeshClick(*m.Mesh, ev); err != nil {
				return err
			}
		}
		v.PointerDown(ev)
	case pointerUp:
		v.PointerUp(ev)
	case pointerMove:
		v.PointerMove(ev)
	case pointerClick:
		if m.Mesh == nil {
			return fmt.Errorf("%w: click without mesh", errBadMessage)
		}
		return v.MeshClick(*m.Mesh, ev)
	default:
		return fmt.Errorf("%w: unknown pointer type %q", errBadMessage, m.Type)
	}
	return nil
}

func (s *server) pointerHandler(w http.ResponseWriter, r *http.Request) {
	var msg pointerMessage
	if _, err := decodeBody(r, &msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.Type = chi.URLParam(r, "kind")
	s.applyPointer(w, r, msg)
}

func (s *server) meshClickHandler(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r, "index")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var msg pointerMessage
	if _, err := decodeBody(r, &msg); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg.Type, msg.Mesh = pointerClick, &i
	s.applyPointer(w, r, msg)
}

func (s *server) applyPointer(w http.ResponseWriter, r *http.Request, msg pointerMessage) {
	var f scene.Frame
	if err := s.do(r, func(v *scene.View) error {
		if err := msg.apply(v); err != nil {
			return err
		}
		f = v.Frame()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"revision":     f.Revision,
		"selection":    f.Selection,
		"slicePreview": f.SlicePreview,
		"sliceEpoch":   f.SliceEpoch,
	})
}
