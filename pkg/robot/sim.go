package robot

import (
	"context"
	"fmt"
	"sync"
)

// SimBus is an in-memory arm: writes move the simulated joints instantly
// and reads report them back. It backs tests and the --sim mode of the CLI,
// where no hardware is attached. Faults can be injected to exercise the
// error paths of callers.
type SimBus struct {
	mu        sync.Mutex
	positions RawVector
	torque    bool
	gripper   bool
	closed    bool
	fault     error
}

// NewSimBus creates a simulated arm with all joints at the given initial
// raw count.
func NewSimBus(initial int) *SimBus {
	positions := make(RawVector, NumJoints)
	for i := range positions {
		positions[i] = initial
	}
	return &SimBus{positions: positions}
}

// SetFault makes every subsequent transaction fail with err until cleared
// with nil. Simulates a cable pull or a powered-off arm.
func (b *SimBus) SetFault(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = err
}

// MovePositions sets the simulated joint positions directly, bypassing the
// bus contract. Used to puppet a simulated leader arm.
func (b *SimBus) MovePositions(raw RawVector) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.positions, raw)
}

// TorqueEnabled reports the simulated torque state.
func (b *SimBus) TorqueEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.torque
}

// GripperClosed reports the simulated gripper state.
func (b *SimBus) GripperClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gripper
}

func (b *SimBus) check(op string) error {
	if b.closed {
		return fmt.Errorf("%w: %s on closed sim bus", ErrCommunication, op)
	}
	if b.fault != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommunication, op, b.fault)
	}
	return nil
}

// ReadPositions returns the simulated joint positions.
func (b *SimBus) ReadPositions(ctx context.Context) (RawVector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("read positions"); err != nil {
		return nil, err
	}
	return b.positions.Clone(), nil
}

// WritePositions moves the simulated joints to the targets.
func (b *SimBus) WritePositions(ctx context.Context, raw RawVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkVectorLen(raw); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("write positions"); err != nil {
		return err
	}
	copy(b.positions, raw)
	return nil
}

// EnableTorque marks the simulated joints as powered.
func (b *SimBus) EnableTorque(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("enable torque"); err != nil {
		return err
	}
	b.torque = true
	return nil
}

// DisableTorque marks the simulated joints as passive.
func (b *SimBus) DisableTorque(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("disable torque"); err != nil {
		return err
	}
	b.torque = false
	return nil
}

// SetGripper records the simulated gripper state.
func (b *SimBus) SetGripper(ctx context.Context, closed bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check("set gripper"); err != nil {
		return err
	}
	b.gripper = closed
	return nil
}

// SetIndicator is accepted and ignored by the simulation.
func (b *SimBus) SetIndicator(ctx context.Context, r, g, bl byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.check("set indicator")
}

// Capabilities reports the full set; the simulation accepts everything.
func (b *SimBus) Capabilities() Capability {
	return CapReadPositions | CapWritePositions | CapTorque | CapGripper | CapIndicator
}

// Close marks the bus as closed; later transactions fail.
func (b *SimBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
