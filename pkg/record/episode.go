// Package record drives the teleoperation loop at a recording frequency and
// collects episodes of synchronized arm poses and camera frames.
package record

import (
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

// Step is one sample of a recording: the observed arm poses, the command
// written to the follower, and at most one frame per camera source.
type Step struct {
	Index     int
	Timestamp time.Time
	Leader    robot.JointVector
	Follower  robot.JointVector
	Target    robot.JointVector
	// Frames is keyed by source ID. A source that produced nothing yet is
	// absent; a stalled source repeats its most recent frame.
	Frames map[string]camera.Frame
}

// Episode is a contiguous run of steps for one demonstration attempt.
// Steps are ordered by index; timestamps never go backwards.
type Episode struct {
	Index     int
	StartedAt time.Time
	Task      string
	Steps     []Step
}

// Duration is the wall time covered by the episode's steps.
func (e *Episode) Duration() time.Duration {
	if len(e.Steps) < 2 {
		return 0
	}
	return e.Steps[len(e.Steps)-1].Timestamp.Sub(e.Steps[0].Timestamp)
}
