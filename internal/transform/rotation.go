// Package transform holds the pointer-driven transforms of the scene: the
// rotation shared by every solid and the live cutting plane.
package transform

import (
	"fmt"

	"cogentcore.org/core/math32"
)

const (
	// DefaultSensitivity converts pointer pixels to radians.
	DefaultSensitivity = 0.01

	// Tolerance bounds translation, quaternion-norm and scale drift.
	Tolerance = 1e-3
)

// Composer accumulates drag gestures into one rigid rotation R. Each delta
// received while dragging builds an incremental rotation from Euler angles
// (pitch=dy*k, yaw=dx*k, roll=0) and left-multiplies it: R = inc * R.
type Composer struct {
	k        float32
	dragging bool
	r        math32.Matrix4
}

// NewComposer returns a composer at the identity rotation. A zero
// sensitivity selects DefaultSensitivity.
func NewComposer(sensitivity float32) *Composer {
	if sensitivity == 0 {
		sensitivity = DefaultSensitivity
	}
	c := &Composer{k: sensitivity}
	c.Reset()
	return c
}

// Reset returns R to the identity.
func (c *Composer) Reset() {
	c.r = *math32.Identity4()
}

// BeginDrag starts accepting deltas.
func (c *Composer) BeginDrag() { c.dragging = true }

// EndDrag stops accepting deltas.
func (c *Composer) EndDrag() { c.dragging = false }

// Dragging reports whether deltas are currently applied.
func (c *Composer) Dragging() bool { return c.dragging }

// Sensitivity returns k.
func (c *Composer) Sensitivity() float32 { return c.k }

// Increment returns the incremental rotation for one pointer delta.
func (c *Composer) Increment(dx, dy float32) math32.Matrix4 {
	q := math32.NewQuatEuler(math32.Vec3(dy*c.k, dx*c.k, 0))
	var m math32.Matrix4
	m.SetTransform(math32.Vector3{}, q, math32.Vec3(1, 1, 1))
	return m
}

// Drag applies one delta if a drag is in progress and reports whether R
// changed.
func (c *Composer) Drag(dx, dy float32) bool {
	if !c.dragging || (dx == 0 && dy == 0) {
		return false
	}
	inc := c.Increment(dx, dy)
	prev := c.r
	c.r.MulMatrices(&inc, &prev)
	return true
}

// Matrix returns a copy of R.
func (c *Composer) Matrix() math32.Matrix4 {
	return c.r
}

// Quat returns the rotation component of R.
func (c *Composer) Quat() math32.Quat {
	_, q, _ := c.r.Decompose()
	return q
}

// Check decomposes R and verifies it is a pure rotation.
func (c *Composer) Check() error {
	pos, q, scale := c.r.Decompose()
	if pos.Length() > Tolerance {
		return fmt.Errorf("rotation has translation %v", pos)
	}
	if n := q.Length(); math32.Abs(n-1) > Tolerance {
		return fmt.Errorf("rotation quaternion norm %g", n)
	}
	for _, s := range []float32{scale.X, scale.Y, scale.Z} {
		if math32.Abs(s-1) > Tolerance {
			return fmt.Errorf("rotation has scale %v", scale)
		}
	}
	return nil
}

// Apply returns R for use by the renderer. When R has drifted away from a
// pure rotation it is rebuilt from its normalized quaternion first, and the
// drift error is returned alongside the repaired matrix.
func (c *Composer) Apply() (math32.Matrix4, error) {
	err := c.Check()
	if err != nil {
		_, q, _ := c.r.Decompose()
		q.Normalize()
		c.r.SetTransform(math32.Vector3{}, q, math32.Vec3(1, 1, 1))
	}
	return c.r, err
}
