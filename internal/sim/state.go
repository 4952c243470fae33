package sim

import "math"

// Joint holds per-DOF readings in simulator order.
type Joint struct {
	Names  []string     `json:"names"`
	Pos    []float64    `json:"pos"`
	Vel    []float64    `json:"vel"`
	Torque []float64    `json:"torque"`
	Limits [][2]float64 `json:"limits"`
}

// Base is the floating base pose in world frame and its velocities in body frame.
type Base struct {
	Pos    [3]float64 `json:"pos"`
	Quat   [4]float64 `json:"quat"` // w, x, y, z
	LinVel [3]float64 `json:"lin_vel"`
	AngVel [3]float64 `json:"ang_vel"`
}

type IMU struct {
	Quat   [4]float64 `json:"quat"`
	Acc    [3]float64 `json:"acc"`
	LinVel [3]float64 `json:"lin_vel"`
	AngVel [3]float64 `json:"ang_vel"`
}

// State is one snapshot returned by Simulator.Step.
type State struct {
	Step  int     `json:"step"`
	Time  float64 `json:"time"`
	Dt    float64 `json:"dt"`
	Joint Joint   `json:"joint"`
	Base  Base    `json:"base"`
	IMU   IMU     `json:"imu"`
}

// Clone returns a deep copy so callers can keep a state across steps.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Joint.Names = append([]string(nil), s.Joint.Names...)
	c.Joint.Pos = append([]float64(nil), s.Joint.Pos...)
	c.Joint.Vel = append([]float64(nil), s.Joint.Vel...)
	c.Joint.Torque = append([]float64(nil), s.Joint.Torque...)
	c.Joint.Limits = append([][2]float64(nil), s.Joint.Limits...)
	return &c
}

// ProjectedGravity rotates world gravity (0, 0, -1) into the base frame.
func ProjectedGravity(q [4]float64) [3]float64 {
	qw, qx, qy, qz := q[0], q[1], q[2], q[3]
	return [3]float64{
		2 * (-qz*qx + qw*qy),
		-2 * (qz*qy + qw*qx),
		1 - 2*(qw*qw+qz*qz),
	}
}

// Yaw extracts the heading angle from a w, x, y, z quaternion.
func Yaw(q [4]float64) float64 {
	qw, qx, qy, qz := q[0], q[1], q[2], q[3]
	return math.Atan2(2*(qw*qz+qx*qy), 1-2*(qy*qy+qz*qz))
}

// QuatFromEuler builds a w, x, y, z quaternion from roll, pitch, yaw.
func QuatFromEuler(roll, pitch, yaw float64) [4]float64 {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return [4]float64{
		cr*cp*cy + sr*sp*sy,
		sr*cp*cy - cr*sp*sy,
		cr*sp*cy + sr*cp*sy,
		cr*cp*sy - sr*sp*cy,
	}
}

// Speed is the body-frame planar speed plus yaw rate magnitude, used for settle detection.
func (b Base) Speed() (lin, ang float64) {
	lin = math.Sqrt(b.LinVel[0]*b.LinVel[0] + b.LinVel[1]*b.LinVel[1] + b.LinVel[2]*b.LinVel[2])
	ang = math.Sqrt(b.AngVel[0]*b.AngVel[0] + b.AngVel[1]*b.AngVel[1] + b.AngVel[2]*b.AngVel[2])
	return lin, ang
}
