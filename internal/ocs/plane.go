package ocs

import (
	"net/url"
	"strconv"

	"cogentcore.org/core/math32"
)

// SlicePlane is the cutting plane a·x + b·y + c·z = d. (A,B,C) is the unit
// normal driven by pointer input; D is set by the operator.
type SlicePlane struct {
	A float32 `json:"a"`
	B float32 `json:"b"`
	C float32 `json:"c"`
	D float32 `json:"d"`
}

// Normal returns (A,B,C).
func (p SlicePlane) Normal() math32.Vector3 {
	return math32.Vec3(p.A, p.B, p.C)
}

// WithNormal returns p with its normal replaced and D kept.
func (p SlicePlane) WithNormal(n math32.Vector3) SlicePlane {
	p.A, p.B, p.C = n.X, n.Y, n.Z
	return p
}

// Query encodes the plane and entry count for /compute_ocs_slice.
func (p SlicePlane) Query(numOCS int) url.Values {
	q := url.Values{}
	q.Set("a", formatFloat32(p.A))
	q.Set("b", formatFloat32(p.B))
	q.Set("c", formatFloat32(p.C))
	q.Set("d", formatFloat32(p.D))
	q.Set("num_ocs", strconv.Itoa(numOCS))
	return q
}

func formatFloat32(v float32) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}
