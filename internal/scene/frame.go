package scene

import (
	"cogentcore.org/core/math32"

	"github.com/ocs-studio/server/internal/fetch"
	"github.com/ocs-studio/server/internal/ocs"
)

// Mesh is one placed solid or slice. Geometry and Shader are shared with
// the displayed records and must not be modified.
type Mesh struct {
	Index         int            `json:"index"`
	Name          string         `json:"name"`
	Position      math32.Vector3 `json:"position"`
	Scale         float32        `json:"scale"`
	Selected      bool           `json:"selected"`
	VertexCount   int            `json:"vertexCount"`
	TriangleCount int            `json:"triangleCount"`

	Geometry *ocs.Geometry `json:"-"`
	Shader   *ocs.Shader   `json:"-"`
}

// Frame is an immutable snapshot of everything a renderer needs for one
// animation frame.
type Frame struct {
	Revision uint64 `json:"revision"`

	// Rotation is applied uniformly to every mesh in Meshes.
	Rotation math32.Matrix4 `json:"rotation"`
	Quat     math32.Quat    `json:"quat"`
	Meshes   []Mesh         `json:"meshes"`

	// Slices are drawn with identity rotation in their own viewport.
	Slices       []Mesh `json:"slices"`
	SlicePending bool   `json:"slicePending"`

	Plane        ocs.SlicePlane `json:"plane"`
	PlaneQuat    math32.Quat    `json:"planeQuat"`
	SlicePreview bool           `json:"slicePreview"`
	SliceEpoch   uint64         `json:"sliceEpoch"`

	Fetch     fetch.State `json:"fetch"`
	Selection *int        `json:"selection"`
	Entries   int         `json:"entries"`
}

// Loading reports whether the loading overlay is shown.
func (f Frame) Loading() bool { return f.Fetch.Status == fetch.StatusLoading }

// Failed reports whether the error surface is shown.
func (f Frame) Failed() bool { return f.Fetch.Status == fetch.StatusError }
