package pose

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// JointAngles are the shoulder angles in radians, in (-pi, pi]. The "in"
// angles point along the collar bone, the "out" angles along the upper arms.
// They are meant for canvas-style arcs from in to out.
type JointAngles struct {
	LeftIn   float64 `json:"left_in"`
	RightIn  float64 `json:"right_in"`
	LeftOut  float64 `json:"left_out"`
	RightOut float64 `json:"right_out"`
}

// LeftDegrees is the left shoulder opening in degrees, as drawn on the label.
func (a JointAngles) LeftDegrees() float64 {
	return (a.LeftOut - a.LeftIn) * 180 / math.Pi
}

// RightDegrees is the right shoulder opening in degrees.
func (a JointAngles) RightDegrees() float64 {
	return (a.RightOut - a.RightIn) * 180 / math.Pi
}

// ArmAngles computes the collar bone and upper arm directions from the
// shoulder and elbow keypoints. Visibility is ignored. If the shoulders
// coincide the collar angles are NaN.
//
// The right upper arm vector is not normalized, unlike the left one. atan2
// does not care about scale so the angle is the same either way.
func ArmAngles(kp Keypoints) JointAngles {
	leftShoulder := vec(kp[LeftShoulder])
	rightShoulder := vec(kp[RightShoulder])
	leftElbow := vec(kp[LeftElbow])
	rightElbow := vec(kp[RightElbow])

	collar := r2.Unit(r2.Sub(rightShoulder, leftShoulder))
	leftArm := r2.Unit(r2.Sub(leftElbow, leftShoulder))
	rightArm := r2.Sub(rightElbow, rightShoulder)

	return JointAngles{
		LeftIn:   math.Atan2(collar.Y, collar.X),
		RightIn:  foldPi(math.Atan2(-collar.Y, -collar.X)),
		LeftOut:  math.Atan2(leftArm.Y, leftArm.X),
		RightOut: math.Atan2(rightArm.Y, rightArm.X),
	}
}

// foldPi maps -pi to pi. Negating a collar with a zero Y component yields
// -0, and atan2(-0, x<0) is -pi.
func foldPi(a float64) float64 {
	if a == -math.Pi {
		return math.Pi
	}
	return a
}

func vec(k Keypoint) r2.Vec {
	return r2.Vec{X: k.X, Y: k.Y}
}
