package transform

import (
	"cogentcore.org/core/math32"

	"github.com/ocs-studio/server/internal/ocs"
)

var (
	// referenceAxis is the axis the candidate normal sweeps around.
	referenceAxis = math32.Vec3(1, 1, 1).Normal()
	// referenceNormal is the candidate normal at pointer x = 0.
	referenceNormal = math32.Vec3(-1, 1, 0).Normal()
	// planeFacing is the local normal of the plane preview mesh.
	planeFacing = math32.Vec3(0, 0, 1)
)

// PlaneController derives the cutting plane normal from the pointer while
// slice preview is active. The offset D is operator-set and never changed
// by pointer input.
type PlaneController struct {
	active  bool
	pointer math32.Vector2
	plane   ocs.SlicePlane
}

// NewPlaneController returns an inactive controller with the zero plane.
func NewPlaneController() *PlaneController {
	return &PlaneController{}
}

// SetActive starts or stops per-frame updates. Stopping freezes the plane.
func (p *PlaneController) SetActive(active bool) { p.active = active }

// Freeze stops updates, keeping the last published plane. Called on commit.
func (p *PlaneController) Freeze() { p.active = false }

// Active reports whether the plane follows the pointer.
func (p *PlaneController) Active() bool { return p.active }

// SetPointer records the normalized pointer position, x and y in [-1,1].
func (p *PlaneController) SetPointer(x, y float32) {
	p.pointer = math32.Vec2(x, y)
}

// Pointer returns the last normalized pointer position.
func (p *PlaneController) Pointer() math32.Vector2 { return p.pointer }

// SetOffset sets D.
func (p *PlaneController) SetOffset(d float32) { p.plane.D = d }

// Plane returns the current plane.
func (p *PlaneController) Plane() ocs.SlicePlane { return p.plane }

// Reset returns the plane to (0,0,0,0).
func (p *PlaneController) Reset() {
	p.plane = ocs.SlicePlane{}
}

// Update recomputes the normal from the pointer and the objects' base
// orientation. It reports false and leaves the plane unchanged while
// inactive.
func (p *PlaneController) Update(base math32.Quat) (ocs.SlicePlane, bool) {
	if !p.active {
		return p.plane, false
	}
	n := OrientedNormal(CandidateNormal(p.pointer.X), base)
	p.plane = p.plane.WithNormal(n)
	return p.plane, true
}

// CandidateNormal rotates the reference normal about the (1,1,1) axis by
// x*2π.
func CandidateNormal(x float32) math32.Vector3 {
	q := math32.NewQuatAxisAngle(referenceAxis, x*2*math32.Pi)
	return referenceNormal.MulQuat(q)
}

// Alignment returns the quaternion turning the plane mesh's local facing
// onto candidate.
func Alignment(candidate math32.Vector3) math32.Quat {
	var q math32.Quat
	q.SetFromUnitVectors(planeFacing, candidate.Normal())
	return q
}

// OrientedNormal composes the candidate's alignment with the base
// orientation so the plane turns together with the solids.
func OrientedNormal(candidate math32.Vector3, base math32.Quat) math32.Vector3 {
	var q math32.Quat
	q.MulQuats(base, Alignment(candidate))
	return planeFacing.MulQuat(q).Normal()
}

// PlaneQuat returns the orientation of the plane preview mesh.
func PlaneQuat(plane ocs.SlicePlane) math32.Quat {
	n := plane.Normal()
	if n.Length() == 0 {
		return math32.Quat{W: 1}
	}
	return Alignment(n)
}
