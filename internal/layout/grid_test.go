package layout

import (
	"math"
	"testing"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-5

func TestGridEmpty(t *testing.T) {
	assert.Empty(t, Grid(0, 1.5))
	assert.Empty(t, Grid(-3, 1.5))
}

func TestGridSingleAtOrigin(t *testing.T) {
	ps := Grid(1, 2)
	require.Len(t, ps, 1)
	assert.Equal(t, math32.Vector3{}, ps[0])
}

func TestGridFour(t *testing.T) {
	s := float32(1.5)
	ps := Grid(4, s)
	want := []math32.Vector3{
		math32.Vec3(-s/2, -s/2, 0),
		math32.Vec3(s/2, -s/2, 0),
		math32.Vec3(-s/2, s/2, 0),
		math32.Vec3(s/2, s/2, 0),
	}
	assert.Equal(t, want, ps)
}

func TestGridThree(t *testing.T) {
	ps := Grid(3, 2)
	want := []math32.Vector3{
		math32.Vec3(-1, -1, 0),
		math32.Vec3(1, -1, 0),
		math32.Vec3(-1, 1, 0),
	}
	assert.Equal(t, want, ps)
}

// A full grid has its centroid at the origin; partial grids keep the
// cols x rows frame centred instead.
func TestGridCentred(t *testing.T) {
	for n := 1; n <= 40; n++ {
		ps := Grid(n, 1.25)
		require.Len(t, ps, n)

		cols := int(math.Ceil(math.Sqrt(float64(n))))
		rows := (n + cols - 1) / cols
		if n == cols*rows {
			c := Centroid(ps)
			assert.InDelta(t, 0, c.X, tol, "n=%d", n)
			assert.InDelta(t, 0, c.Y, tol, "n=%d", n)
		}

		first := ps[0]
		last := math32.Vec3(first.X+float32(cols-1)*1.25, first.Y+float32(rows-1)*1.25, 0)
		assert.InDelta(t, 0, first.X+last.X, tol, "n=%d", n)
		assert.InDelta(t, 0, first.Y+last.Y, tol, "n=%d", n)
		for _, p := range ps {
			assert.Zero(t, p.Z)
		}
	}
}

func TestGridIdempotent(t *testing.T) {
	assert.Equal(t, Grid(7, 0.8), Grid(7, 0.8))
}
