package ocs

import (
	"fmt"

	"cogentcore.org/core/math32"
)

// Geometry is an indexed triangle mesh with flat attribute arrays.
// Positions, Normals and Colors hold three components per vertex.
type Geometry struct {
	Positions []float32 `json:"positions"`
	Normals   []float32 `json:"normals,omitempty"`
	Colors    []float32 `json:"colors,omitempty"`
	Indices   []uint32  `json:"indices"`
}

// VertexCount returns the number of vertices.
func (g Geometry) VertexCount() int {
	return len(g.Positions) / 3
}

// TriangleCount returns the number of indexed triangles.
func (g Geometry) TriangleCount() int {
	return len(g.Indices) / 3
}

// Vertex returns vertex i.
func (g Geometry) Vertex(i int) math32.Vector3 {
	return math32.Vec3(g.Positions[3*i], g.Positions[3*i+1], g.Positions[3*i+2])
}

// Bounds returns the axis-aligned bounding box of the positions.
func (g Geometry) Bounds() math32.Box3 {
	b := math32.B3Empty()
	for i := 0; i < g.VertexCount(); i++ {
		b.ExpandByPoint(g.Vertex(i))
	}
	return b
}

// Translate offsets every position in place.
func (g *Geometry) Translate(dx, dy, dz float32) {
	for i := 0; i+2 < len(g.Positions); i += 3 {
		g.Positions[i] += dx
		g.Positions[i+1] += dy
		g.Positions[i+2] += dz
	}
}

// Validate checks that the attribute arrays are consistent.
func (g Geometry) Validate() error {
	if len(g.Positions)%3 != 0 {
		return fmt.Errorf("positions length %d is not a multiple of 3", len(g.Positions))
	}
	if n := len(g.Normals); n != 0 && n != len(g.Positions) {
		return fmt.Errorf("normals length %d does not match positions length %d", n, len(g.Positions))
	}
	if n := len(g.Colors); n != 0 && n != len(g.Positions) {
		return fmt.Errorf("colors length %d does not match positions length %d", n, len(g.Positions))
	}
	if len(g.Indices)%3 != 0 {
		return fmt.Errorf("indices length %d is not a multiple of 3", len(g.Indices))
	}
	nv := uint32(g.VertexCount())
	for i, idx := range g.Indices {
		if idx >= nv {
			return fmt.Errorf("index %d at position %d out of range (vertices=%d)", idx, i, nv)
		}
	}
	return nil
}

// Shader is an opaque vertex/fragment shader source pair.
type Shader struct {
	Vertex   string `json:"vertexShader"`
	Fragment string `json:"fragmentShader"`
}

// Curves holds the sampled wavelengths and the per-photoreceptor responses.
type Curves struct {
	Wavelengths []float64           `json:"wavelengths"`
	Responses   [MaxPeaks][]float64 `json:"responses"`
}

// RenderRecord is the renderable output fetched for one entry.
type RenderRecord struct {
	Geometry Geometry `json:"geometry"`
	Shader   Shader   `json:"shader"`
	Curves   Curves   `json:"curves"`
}
