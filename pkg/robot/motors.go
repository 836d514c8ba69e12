// Package robot provides abstractions for controlling robot arms.
package robot

// MotorName identifies a joint in the arm.
type MotorName string

// Motor names for a 6-DOF manipulator. The order matches the joint index
// used throughout: JointVector[i] and RawVector[i] always refer to
// AllMotors()[i].
const (
	ShoulderPan  MotorName = "shoulder_pan"
	ShoulderLift MotorName = "shoulder_lift"
	ElbowFlex    MotorName = "elbow_flex"
	WristFlex    MotorName = "wrist_flex"
	WristRoll    MotorName = "wrist_roll"
	Gripper      MotorName = "gripper"
)

// NumJoints is the fixed number of joints per arm.
const NumJoints = 6

// AllMotors returns all motor names in joint order (matching servo IDs 1-6).
func AllMotors() []MotorName {
	return []MotorName{
		ShoulderPan,
		ShoulderLift,
		ElbowFlex,
		WristFlex,
		WristRoll,
		Gripper,
	}
}

// JointVector is an ordered set of per-joint angles in degrees. Index
// position is the joint identity; the order is shared across leader,
// follower and calibration.
type JointVector []float64

// RawVector is an ordered set of raw encoder counts, index-aligned with
// JointVector.
type RawVector []int

// Clone returns an independent copy of the vector.
func (v JointVector) Clone() JointVector {
	cp := make(JointVector, len(v))
	copy(cp, v)
	return cp
}

// Clone returns an independent copy of the vector.
func (v RawVector) Clone() RawVector {
	cp := make(RawVector, len(v))
	copy(cp, v)
	return cp
}
