// Package layout places N solids on a square-ish grid centred on the origin.
package layout

import (
	"math"

	"cogentcore.org/core/math32"
)

// Grid returns n anchor positions on the z=0 plane. Columns are
// ceil(sqrt(n)), rows ceil(n/cols); item i sits at column i%cols and row
// i/cols, offset so the grid is centred on the origin.
func Grid(n int, spacing float32) []math32.Vector3 {
	if n <= 0 {
		return []math32.Vector3{}
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	cx := float32(cols-1) / 2
	cy := float32(rows-1) / 2
	out := make([]math32.Vector3, n)
	for i := range out {
		col := i % cols
		row := i / cols
		out[i] = math32.Vec3((float32(col)-cx)*spacing, (float32(row)-cy)*spacing, 0)
	}
	return out
}

// Centroid returns the mean of ps, or the origin for an empty slice.
func Centroid(ps []math32.Vector3) math32.Vector3 {
	var c math32.Vector3
	if len(ps) == 0 {
		return c
	}
	for _, p := range ps {
		c = c.Add(p)
	}
	return c.DivScalar(float32(len(ps)))
}
