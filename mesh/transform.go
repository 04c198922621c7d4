package mesh

import (
	"fmt"
	"math"
)

// HeadingConvention selects how a pose heading becomes a rotation angle.
type HeadingConvention string

const (
	// HeadingMath uses the heading directly as a counter-clockwise rotation angle:
	// x' = x·cos(h) − y·sin(h), y' = x·sin(h) + y·cos(h).
	HeadingMath HeadingConvention = "math"

	// HeadingCompass treats the heading as clockwise from north with the sensor
	// looking along +y, so the rotation angle is −h.
	HeadingCompass HeadingConvention = "compass"
)

// ParseHeadingConvention validates a convention name. Empty means HeadingMath.
func ParseHeadingConvention(s string) (HeadingConvention, error) {
	switch HeadingConvention(s) {
	case "", HeadingMath:
		return HeadingMath, nil
	case HeadingCompass:
		return HeadingCompass, nil
	}
	return "", configErrorf("headingConvention", "must be %q or %q, got %q", HeadingMath, HeadingCompass, s)
}

// RotationAngle returns the counter-clockwise rotation in radians for a heading in degrees.
func (c HeadingConvention) RotationAngle(headingDeg float64) float64 {
	rad := headingDeg * math.Pi / 180.0
	if c == HeadingCompass {
		return -rad
	}
	return rad
}

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// NormalizeAngle normalizes an angle in degrees to the range [0, 360).
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// PoseMatrix builds the sensor-to-world rigid transform for a pose:
// rotation by the heading first, then translation by easting/northing.
// Depth does not take part in the planar transform.
func PoseMatrix(p Pose, conv HeadingConvention) AffineMatrix {
	return MultiplyMatrices(Translation(p.Easting, p.Northing), Rotation(conv.RotationAngle(p.Heading)))
}

// TransformFrame maps every pixel of a Cartesian frame into world
// coordinates using pose. Pixels without data (NaN intensity) are dropped.
// Callers must only pass complete poses; an incomplete pose is rejected
// with ErrIncompletePose and no samples.
func TransformFrame(frame *CartesianFrame, pose Pose, conv HeadingConvention) (WorldSamples, error) {
	if !pose.Complete() {
		return WorldSamples{}, ErrIncompletePose
	}
	if len(frame.X) != frame.Len() || len(frame.Y) != frame.Len() {
		return WorldSamples{}, fmt.Errorf("transform frame: coordinate tables %d/%d do not match %d pixels",
			len(frame.X), len(frame.Y), frame.Len())
	}

	m := PoseMatrix(pose, conv)
	n := frame.Len()
	out := WorldSamples{
		X:         make([]float64, 0, n),
		Y:         make([]float64, 0, n),
		Intensity: make([]float64, 0, n),
	}
	for i := 0; i < n; i++ {
		v := frame.Intensity[i]
		if math.IsNaN(v) {
			continue
		}
		w := TransformPoint(Point{X: frame.X[i], Y: frame.Y[i]}, m)
		out.Append(w.X, w.Y, v)
	}
	return out, nil
}
