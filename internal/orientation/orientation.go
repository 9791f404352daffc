package orientation

import (
	"math"

	"github.com/relabs-tech/motion_logger/internal/imu"
)

// Quaternion is the canonical representation of orientation for the logger.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Sample is one timestamped orientation estimate within a capture session.
type Sample struct {
	ElapsedMS uint64     `json:"elapsed_ms"`
	Quat      Quaternion `json:"quat"`
}

// FromQuat6 converts a raw DMP game-rotation-vector payload into a unit
// quaternion in the device frame.
//
// The scalar part is reconstructed from the vector part:
//
//	q0 = sqrt(1 - (q1² + q2² + q3²))
//
// The radicand is clamped at zero so sensor noise that pushes the vector
// norm past 1 yields W=0 instead of NaN.
//
// Axis mapping follows the board mounting: X=q2, Y=q1, Z=-q3.
func FromQuat6(raw imu.Quat6) Quaternion {
	q1 := float64(raw.Q1) / imu.Quat6Scale
	q2 := float64(raw.Q2) / imu.Quat6Scale
	q3 := float64(raw.Q3) / imu.Quat6Scale

	radicand := 1.0 - (q1*q1 + q2*q2 + q3*q3)
	if radicand < 0 {
		radicand = 0
	}
	q0 := math.Sqrt(radicand)

	return Quaternion{
		W: q0,
		X: q2,
		Y: q1,
		Z: -q3,
	}
}
