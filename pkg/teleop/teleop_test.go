package teleop

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

func simCalibration() robot.Calibration {
	cal := make(robot.Calibration, robot.NumJoints)
	for i, name := range robot.AllMotors() {
		cal[name] = robot.MotorCalibration{
			ID:           i + 1,
			HomingOffset: 2048,
			RangeMin:     1024,
			RangeMax:     3072,
		}
	}
	return cal
}

func simPair(t *testing.T, cfg Config) (*robot.SimBus, *robot.SimBus, *Controller) {
	t.Helper()
	leaderBus := robot.NewSimBus(2048)
	followerBus := robot.NewSimBus(2048)
	cfg.Leader = robot.NewArm(leaderBus, simCalibration())
	cfg.Follower = robot.NewArm(followerBus, simCalibration())

	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() { ctrl.Close() })
	return leaderBus, followerBus, ctrl
}

func TestController_StepMirrorsLeaderOntoFollower(t *testing.T) {
	ctx := context.Background()
	leaderBus, followerBus, ctrl := simPair(t, Config{Hz: 100})

	// Move the simulated leader off center: +90 degrees on joint 2.
	pose := robot.RawVector{2048, 2048, 2560, 2048, 2048, 2048}
	leaderBus.MovePositions(pose)

	state := ctrl.Step(ctx)
	if state.Err != nil {
		t.Fatalf("Step: %v", state.Err)
	}
	if math.Abs(state.Leader[2]-90) > 0.2 {
		t.Errorf("leader joint 2 = %f, want ~90", state.Leader[2])
	}
	if math.Abs(state.Target[2]-90) > 0.2 {
		t.Errorf("target joint 2 = %f, want ~90", state.Target[2])
	}

	raw, err := followerBus.ReadPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if raw[2] != 2560 {
		t.Errorf("follower raw joint 2 = %d, want 2560", raw[2])
	}
}

func TestController_StepAppliesLimiter(t *testing.T) {
	ctx := context.Background()
	leaderBus, _, ctrl := simPair(t, Config{Hz: 100, MaxDelta: MaxDeltaDegrees(5)})

	// Leader jumps far from the follower in a single step.
	leaderBus.MovePositions(robot.RawVector{3072, 2048, 2048, 2048, 2048, 2048})

	state := ctrl.Step(ctx)
	if state.Err != nil {
		t.Fatalf("Step: %v", state.Err)
	}
	if delta := state.Target[0] - state.Follower[0]; math.Abs(delta) > 5+1e-9 {
		t.Errorf("follower commanded delta %f exceeds limit 5", delta)
	}
}

func TestController_StepMirrorModeInvertsJoints(t *testing.T) {
	ctx := context.Background()
	leaderBus, _, ctrl := simPair(t, Config{Hz: 100, Mirror: true})

	leaderBus.MovePositions(robot.RawVector{2560, 2048, 2048, 2048, 2560, 2048})

	state := ctrl.Step(ctx)
	if state.Err != nil {
		t.Fatalf("Step: %v", state.Err)
	}
	// shoulder_pan (0) and wrist_roll (4) invert; others track directly.
	if math.Abs(state.Target[0]+90) > 0.2 {
		t.Errorf("mirrored shoulder_pan target = %f, want ~-90", state.Target[0])
	}
	if math.Abs(state.Target[4]+90) > 0.2 {
		t.Errorf("mirrored wrist_roll target = %f, want ~-90", state.Target[4])
	}
	if math.Abs(state.Target[1]) > 0.2 {
		t.Errorf("shoulder_lift target = %f, want ~0", state.Target[1])
	}
}

func TestController_StepSurfacesCommunicationFault(t *testing.T) {
	ctx := context.Background()
	leaderBus, _, ctrl := simPair(t, Config{Hz: 100})

	leaderBus.SetFault(errors.New("unplugged"))
	state := ctrl.Step(ctx)
	if state.Err == nil {
		t.Fatal("Step with faulted leader returned no error")
	}
	if !errors.Is(state.Err, robot.ErrCommunication) {
		t.Errorf("fault not classified as ErrCommunication: %v", state.Err)
	}

	// The fault is per-iteration: the next step succeeds once cleared.
	leaderBus.SetFault(nil)
	if state := ctrl.Step(ctx); state.Err != nil {
		t.Errorf("step after fault cleared: %v", state.Err)
	}
}

func TestController_RunStopsOnCancelAndReleasesFollower(t *testing.T) {
	_, followerBus, ctrl := simPair(t, Config{Hz: 200})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	// Let a few iterations happen, then interrupt.
	time.Sleep(50 * time.Millisecond)
	if !followerBus.TorqueEnabled() {
		t.Error("follower torque not enabled while running")
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if followerBus.TorqueEnabled() {
		t.Error("follower torque still enabled after shutdown")
	}
}

func TestController_RequiresCalibratedArms(t *testing.T) {
	_, err := NewController(Config{
		Leader:   robot.NewArm(robot.NewSimBus(2048), nil),
		Follower: robot.NewArm(robot.NewSimBus(2048), simCalibration()),
	})
	if err == nil {
		t.Error("NewController accepted an uncalibrated leader")
	}
}
