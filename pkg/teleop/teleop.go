// Package teleop provides teleoperation control for robot arms.
package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

// DefaultHz is the control frequency for raw teleoperation. Recording runs
// lower; the recorder passes its own frequency.
const DefaultHz = 100

// State is the outcome of one control-loop iteration.
type State struct {
	Timestamp time.Time
	// Leader is the leader's observed pose in degrees.
	Leader robot.JointVector
	// Follower is the follower's observed pose before the write.
	Follower robot.JointVector
	// Target is the limited command written to the follower.
	Target robot.JointVector
	// Err is set when the iteration aborted on a communication fault.
	Err error
}

// Config holds configuration for the controller. Arms are connected by the
// caller; the controller takes over torque management and closes them.
type Config struct {
	Leader   *robot.Arm
	Follower *robot.Arm
	Hz       int
	// MaxDelta bounds per-step follower motion in degrees; nil disables
	// limiting.
	MaxDelta *float64
	// Mirror inverts shoulder_pan and wrist_roll, for arms mounted
	// facing each other.
	Mirror bool
}

// Controller runs the fixed-period leader-to-follower control loop.
type Controller struct {
	leader   *robot.Arm
	follower *robot.Arm
	limiter  Limiter
	hz       int
	mirror   bool

	mu      sync.Mutex
	running bool

	stateCh chan State
	logCh   chan string
}

// NewController creates a teleoperation controller over two connected arms.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Leader == nil || cfg.Follower == nil {
		return nil, fmt.Errorf("controller requires leader and follower arms")
	}
	if !cfg.Leader.Calibrated() || !cfg.Follower.Calibrated() {
		return nil, fmt.Errorf("both arms must be calibrated before teleoperation")
	}
	hz := cfg.Hz
	if hz <= 0 {
		hz = DefaultHz
	}
	return &Controller{
		leader:   cfg.Leader,
		follower: cfg.Follower,
		limiter:  Limiter{MaxDelta: cfg.MaxDelta},
		hz:       hz,
		mirror:   cfg.Mirror,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}, nil
}

// States returns a channel that receives state updates. Old states are
// dropped when the consumer lags.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Period returns the loop period.
func (c *Controller) Period() time.Duration {
	return time.Second / time.Duration(c.hz)
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Prepare puts the arms in their teleoperation roles: leader passive so the
// operator can move it, follower powered so it tracks.
func (c *Controller) Prepare(ctx context.Context) {
	if err := c.leader.Disable(ctx); err != nil {
		c.log("Warning: failed to disable leader: %v", err)
	} else {
		c.log("Leader arm: torque disabled (passive mode)")
	}
	if err := c.follower.Enable(ctx); err != nil {
		c.log("Warning: failed to enable follower: %v", err)
	} else {
		c.log("Follower arm: torque enabled")
	}
}

// Step performs exactly one control iteration: read leader, read follower,
// limit, write follower. A communication fault on either bus aborts the
// iteration and is returned in State.Err; it is not retried here, so a
// disconnected arm never masquerades as silent inactivity.
func (c *Controller) Step(ctx context.Context) State {
	state := State{Timestamp: time.Now()}

	leaderAngles, err := c.leader.ReadAngles(ctx)
	if err != nil {
		state.Err = fmt.Errorf("leader: %w", err)
		return state
	}
	state.Leader = leaderAngles

	followerAngles, err := c.follower.ReadAngles(ctx)
	if err != nil {
		state.Err = fmt.Errorf("follower: %w", err)
		return state
	}
	state.Follower = followerAngles

	want := leaderAngles
	if c.mirror {
		want = mirrorAngles(leaderAngles)
	}
	target := c.limiter.Apply(followerAngles, want)
	state.Target = target

	if err := c.follower.WriteAngles(ctx, target); err != nil {
		state.Err = fmt.Errorf("follower: %w", err)
		return state
	}
	return state
}

// mirrorAngles inverts shoulder_pan and wrist_roll.
func mirrorAngles(angles robot.JointVector) robot.JointVector {
	out := angles.Clone()
	for i, name := range robot.AllMotors() {
		if name == robot.ShoulderPan || name == robot.WristRoll {
			out[i] = -out[i]
		}
	}
	return out
}

// Run drives the loop at the configured frequency until the context is
// cancelled. After each iteration it sleeps the remainder of the period; an
// overlong iteration starts the next one immediately, with no catch-up.
// Cancellation is honored only at iteration boundaries, never mid-write.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.Prepare(ctx)
	c.log("Teleoperation started at %d Hz", c.hz)

	period := c.Period()
	for {
		if err := ctx.Err(); err != nil {
			c.shutdown()
			return err
		}

		started := time.Now()
		state := c.Step(ctx)
		if state.Err != nil {
			c.log("Step error: %v", state.Err)
		}
		c.publish(state)

		if remaining := period - time.Since(started); remaining > 0 {
			sleep(ctx, remaining)
		}
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Controller) publish(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	ctx := context.Background()
	if err := c.follower.Disable(ctx); err != nil {
		c.log("Warning: failed to disable follower: %v", err)
	} else {
		c.log("Follower arm: torque disabled")
	}
	c.log("Teleoperation stopped")
}

// Close disables follower torque and releases both arms. Reachable on
// every exit path.
func (c *Controller) Close() error {
	var errs []error
	if err := c.follower.Disable(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if err := c.leader.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.follower.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
