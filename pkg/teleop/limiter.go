package teleop

import (
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

// Limiter bounds per-step joint motion. A leader knocked out of range or a
// transient bad read must never turn into an abrupt follower motion, so the
// requested delta from the follower's current position is clamped per joint.
//
// A nil MaxDelta disables limiting entirely (explicit, not a zero default).
type Limiter struct {
	// MaxDelta is the maximum per-step magnitude in degrees.
	MaxDelta *float64
}

// MaxDeltaDegrees is a convenience for building a limiter config.
func MaxDeltaDegrees(d float64) *float64 { return &d }

// Apply clamps each joint's requested delta relative to prev. It is a pure
// function: no state beyond the inputs.
func (l Limiter) Apply(prev, want robot.JointVector) robot.JointVector {
	if l.MaxDelta == nil {
		return want.Clone()
	}
	max := *l.MaxDelta
	out := make(robot.JointVector, len(want))
	for i := range want {
		delta := want[i] - prev[i]
		if delta > max {
			delta = max
		} else if delta < -max {
			delta = -max
		}
		out[i] = prev[i] + delta
	}
	return out
}
