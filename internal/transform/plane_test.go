package transform

import (
	"testing"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-studio/server/internal/ocs"
)

var identity = math32.Quat{W: 1}

func TestPlaneInactiveIsFrozen(t *testing.T) {
	p := NewPlaneController()
	p.SetPointer(0.4, 0.1)
	plane, changed := p.Update(identity)
	assert.False(t, changed)
	assert.Equal(t, ocs.SlicePlane{}, plane)
}

func TestPlaneCentreGivesReferenceNormal(t *testing.T) {
	p := NewPlaneController()
	p.SetActive(true)
	p.SetPointer(0, 0.7)
	plane, changed := p.Update(identity)
	require.True(t, changed)

	want := math32.Vec3(-1, 1, 0).Normal()
	assert.InDelta(t, want.X, plane.A, tol)
	assert.InDelta(t, want.Y, plane.B, tol)
	assert.InDelta(t, want.Z, plane.C, tol)
}

func TestPlaneNormalIsUnitAndPerpendicularToAxis(t *testing.T) {
	p := NewPlaneController()
	p.SetActive(true)
	axis := math32.Vec3(1, 1, 1).Normal()
	for _, x := range []float32{-1, -0.6, -0.25, 0.1, 0.33, 0.8, 1} {
		p.SetPointer(x, 0)
		plane, _ := p.Update(identity)
		n := plane.Normal()
		assert.InDelta(t, 1, n.Length(), tol, "x=%v", x)
		assert.InDelta(t, 0, n.Dot(axis), tol, "x=%v", x)
	}
}

func TestPlaneFullTurnRepeats(t *testing.T) {
	a := CandidateNormal(-0.5)
	b := CandidateNormal(0.5)
	assert.InDelta(t, a.X, b.X, tol)
	assert.InDelta(t, a.Y, b.Y, tol)
	assert.InDelta(t, a.Z, b.Z, tol)
}

func TestPlaneFollowsBaseOrientation(t *testing.T) {
	base := math32.NewQuatAxisAngle(math32.Vec3(0, 1, 0), math32.Pi/2)
	cand := CandidateNormal(0)
	n := OrientedNormal(cand, base)
	want := cand.MulQuat(base)
	assert.InDelta(t, want.X, n.X, tol)
	assert.InDelta(t, want.Y, n.Y, tol)
	assert.InDelta(t, want.Z, n.Z, tol)
}

func TestPlaneOffsetUntouchedByPointer(t *testing.T) {
	p := NewPlaneController()
	p.SetOffset(0.25)
	p.SetActive(true)
	p.SetPointer(0.3, -0.2)
	plane, _ := p.Update(identity)
	assert.Equal(t, float32(0.25), plane.D)

	p.Reset()
	assert.Equal(t, ocs.SlicePlane{}, p.Plane())
}

func TestPlaneQuatFacesNormal(t *testing.T) {
	plane := ocs.SlicePlane{}.WithNormal(math32.Vec3(0, 1, 0))
	q := PlaneQuat(plane)
	n := math32.Vec3(0, 0, 1).MulQuat(q)
	assert.InDelta(t, 0, n.X, tol)
	assert.InDelta(t, 1, n.Y, tol)
	assert.InDelta(t, 0, n.Z, tol)

	assert.Equal(t, identity, PlaneQuat(ocs.SlicePlane{}))
}
