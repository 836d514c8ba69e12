package robot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Family selects the hardware family behind an arm's channel.
type Family string

const (
	// FamilyFeetech is a chain of STS serial bus servos.
	FamilyFeetech Family = "feetech"
	// FamilyCobot is an integrated 6-axis arm with its own controller.
	FamilyCobot Family = "cobot"
	// FamilySim is the in-memory simulated arm.
	FamilySim Family = "sim"
)

// ArmConfig describes how to connect one arm.
type ArmConfig struct {
	Port        string
	Family      Family
	Calibration Calibration

	// LockDir holds the per-channel lock files. Empty means the system
	// temp directory.
	LockDir string
}

// Arm is the runtime binding of an open bus to its calibration. It owns
// the physical channel exclusively for its connected lifetime: a second
// Connect on the same port fails until Close releases the channel lock.
type Arm struct {
	bus         Bus
	calibration Calibration
	lock        *flock.Flock
	lockPath    string
}

// Connect opens the channel for the configured family and acquires the
// channel lock. Calibration may be nil when connecting for a calibration
// session; angle conversion then requires a later SetCalibration.
func Connect(cfg ArmConfig) (*Arm, error) {
	var lock *flock.Flock
	var lockPath string
	if cfg.Family != FamilySim {
		lockDir := cfg.LockDir
		if lockDir == "" {
			lockDir = os.TempDir()
		}
		lockPath = filepath.Join(lockDir, "lerobot-"+sanitizePort(cfg.Port)+".lock")
		lock = flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("%w: lock channel %s: %w", ErrConnection, cfg.Port, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: channel %s is held by another process", ErrConnection, cfg.Port)
		}
	}

	bus, err := openBus(cfg)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}

	return &Arm{bus: bus, calibration: cfg.Calibration, lock: lock, lockPath: lockPath}, nil
}

// NewArm binds an already open bus to a calibration. The caller keeps
// responsibility for channel exclusivity; used for simulated arms and tests.
func NewArm(bus Bus, cal Calibration) *Arm {
	return &Arm{bus: bus, calibration: cal}
}

func openBus(cfg ArmConfig) (Bus, error) {
	switch cfg.Family {
	case FamilyFeetech, "":
		return OpenFeetech(cfg.Port)
	case FamilyCobot:
		return OpenCobot(cfg.Port)
	case FamilySim:
		return NewSimBus(2048), nil
	default:
		return nil, fmt.Errorf("%w: unknown arm family %q", ErrConnection, cfg.Family)
	}
}

func sanitizePort(port string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '-'
		}
		return r
	}, port)
}

// Calibrated reports whether the arm has calibration data.
func (a *Arm) Calibrated() bool { return len(a.calibration) > 0 }

// SetCalibration installs calibration produced by a session.
func (a *Arm) SetCalibration(cal Calibration) { a.calibration = cal }

// Capabilities reports the bus capability set.
func (a *Arm) Capabilities() Capability { return a.bus.Capabilities() }

// ReadRaw reads raw encoder counts; used during calibration capture.
func (a *Arm) ReadRaw(ctx context.Context) (RawVector, error) {
	return a.bus.ReadPositions(ctx)
}

// ReadAngles reads current positions and converts them to degrees.
func (a *Arm) ReadAngles(ctx context.Context) (JointVector, error) {
	if !a.Calibrated() {
		return nil, fmt.Errorf("arm is not calibrated")
	}
	raw, err := a.bus.ReadPositions(ctx)
	if err != nil {
		return nil, err
	}
	return a.calibration.ToAngles(raw), nil
}

// WriteAngles converts degrees back to raw counts and writes them.
func (a *Arm) WriteAngles(ctx context.Context, angles JointVector) error {
	if !a.Calibrated() {
		return fmt.Errorf("arm is not calibrated")
	}
	return a.bus.WritePositions(ctx, a.calibration.ToRaw(angles))
}

// Enable enables torque on all joints.
func (a *Arm) Enable(ctx context.Context) error {
	return a.bus.EnableTorque(ctx)
}

// Disable disables torque on all joints.
func (a *Arm) Disable(ctx context.Context) error {
	return a.bus.DisableTorque(ctx)
}

// SetGripper forwards to the bus; fails with ErrUnsupportedCapability on
// hardware without a discrete gripper.
func (a *Arm) SetGripper(ctx context.Context, closed bool) error {
	return a.bus.SetGripper(ctx, closed)
}

// SetIndicator forwards to the bus; fails with ErrUnsupportedCapability on
// hardware without an indicator.
func (a *Arm) SetIndicator(ctx context.Context, r, g, b byte) error {
	return a.bus.SetIndicator(ctx, r, g, b)
}

// Close releases the bus and the channel lock. Must be reachable on every
// exit path, including error paths.
func (a *Arm) Close() error {
	err := a.bus.Close()
	if a.lock != nil {
		if unlockErr := a.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("release channel lock: %w", unlockErr)
		}
		os.Remove(a.lockPath)
	}
	return err
}
