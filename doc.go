// Package lerobot provides teleoperation and dataset recording for
// leader/follower robot arm sets.
//
// A follower arm tracks a leader arm moved by hand; recording sessions
// capture the resulting joint trajectories together with camera frames as
// episodic datasets for imitation learning.
//
// # Installation
//
//	go install github.com/hanahanaworks/xtl-lerobot/cmd/lerobot@latest
//
// # Usage
//
// First, run setup to detect and calibrate an arm set:
//
//	lerobot setup
//
// Then start teleoperation:
//
//	lerobot teleoperate
//
// Or record episodes into a dataset session:
//
//	lerobot record --task "pick up the block"
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/lerobot: CLI with setup, teleoperate and record commands
//   - pkg/robot: Arm control, hardware families, calibration, configuration
//   - pkg/teleop: Teleoperation controller with safety limiting
//   - pkg/camera: Camera frame sources (GStreamer and simulated)
//   - pkg/record: Episode recorder driving the control loop
//   - pkg/dataset: Session persistence (SQLite steps + frame streams)
package lerobot
