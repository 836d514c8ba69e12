package robot

import (
	"context"
	"fmt"
)

// Capability describes which operations a bus family supports.
type Capability uint8

const (
	CapReadPositions Capability = 1 << iota
	CapWritePositions
	CapTorque
	CapGripper
	CapIndicator
)

// Has reports whether all bits of want are present.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Bus is the uniform transport to one set of joints over a single physical
// channel. Concrete hardware families implement a subset of the optional
// operations; query Capabilities before invoking them. Unsupported
// operations fail with ErrUnsupportedCapability, never a silent no-op.
//
// Writes are physically observable (the arm moves) and not reversible by
// software.
type Bus interface {
	// ReadPositions returns raw encoder counts in joint order.
	ReadPositions(ctx context.Context) (RawVector, error)

	// WritePositions sends target raw encoder counts in joint order.
	WritePositions(ctx context.Context, raw RawVector) error

	// EnableTorque powers the joints so they hold and track targets.
	EnableTorque(ctx context.Context) error

	// DisableTorque makes the joints passive so an operator can move them.
	DisableTorque(ctx context.Context) error

	// SetGripper closes (true) or opens (false) a discrete gripper.
	SetGripper(ctx context.Context, closed bool) error

	// SetIndicator sets an RGB indicator on the arm.
	SetIndicator(ctx context.Context, r, g, b byte) error

	// Capabilities reports the supported operation set.
	Capabilities() Capability

	// Close releases the physical channel.
	Close() error
}

func errUnsupported(family string, op string) error {
	return fmt.Errorf("%w: %s does not support %s", ErrUnsupportedCapability, family, op)
}

func checkVectorLen(raw RawVector) error {
	if len(raw) != NumJoints {
		return fmt.Errorf("%w: expected %d joints, got %d", ErrCommunication, NumJoints, len(raw))
	}
	return nil
}
