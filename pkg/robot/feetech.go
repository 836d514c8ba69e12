package robot

import (
	"context"
	"fmt"

	"github.com/hipsterbrown/feetech-servo/feetech"
)

// FeetechBus drives a chain of STS serial bus servos (SO-101 style arms,
// one servo per joint, IDs 1..6). Gripper and indicator are not discrete
// capabilities on this family: the gripper is joint 6.
type FeetechBus struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	ids   []int
}

const feetechBaudRate = 1_000_000

// OpenFeetech opens the serial channel and prepares a servo group for
// sync read/write of all joints.
func OpenFeetech(port string) (*FeetechBus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: feetechBaudRate,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open feetech bus on %s: %w", ErrConnection, port, err)
	}

	ids := make([]int, NumJoints)
	for i := range ids {
		ids[i] = i + 1
	}
	group := feetech.NewServoGroupByIDs(bus, ids...)

	return &FeetechBus{bus: bus, group: group, ids: ids}, nil
}

// ReadPositions reads raw counts from all servos using one sync read.
func (b *FeetechBus) ReadPositions(ctx context.Context) (RawVector, error) {
	positions, err := b.group.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read positions: %w", ErrCommunication, err)
	}
	raw := make(RawVector, len(b.ids))
	for i, id := range b.ids {
		pos, ok := positions[id]
		if !ok {
			return nil, fmt.Errorf("%w: servo %d missing from sync read", ErrCommunication, id)
		}
		raw[i] = pos
	}
	return raw, nil
}

// WritePositions sends target raw counts to all servos using one sync write.
func (b *FeetechBus) WritePositions(ctx context.Context, raw RawVector) error {
	if err := checkVectorLen(raw); err != nil {
		return err
	}
	targets := make(feetech.PositionMap, len(b.ids))
	for i, id := range b.ids {
		targets[id] = raw[i]
	}
	if err := b.group.SetPositions(ctx, targets); err != nil {
		return fmt.Errorf("%w: write positions: %w", ErrCommunication, err)
	}
	return nil
}

// EnableTorque enables torque on all servos.
func (b *FeetechBus) EnableTorque(ctx context.Context) error {
	if err := b.group.EnableAll(ctx); err != nil {
		return fmt.Errorf("%w: enable torque: %w", ErrCommunication, err)
	}
	return nil
}

// DisableTorque disables torque on all servos.
func (b *FeetechBus) DisableTorque(ctx context.Context) error {
	if err := b.group.DisableAll(ctx); err != nil {
		return fmt.Errorf("%w: disable torque: %w", ErrCommunication, err)
	}
	return nil
}

// SetGripper is unsupported on this family.
func (b *FeetechBus) SetGripper(ctx context.Context, closed bool) error {
	return errUnsupported("feetech bus", "gripper control")
}

// SetIndicator is unsupported on this family.
func (b *FeetechBus) SetIndicator(ctx context.Context, r, g, bl byte) error {
	return errUnsupported("feetech bus", "indicator control")
}

// Capabilities reports position read/write and torque control.
func (b *FeetechBus) Capabilities() Capability {
	return CapReadPositions | CapWritePositions | CapTorque
}

// Close releases the serial channel.
func (b *FeetechBus) Close() error {
	return b.bus.Close()
}
