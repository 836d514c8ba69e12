package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// CobotBus drives an integrated 6-axis arm whose controller speaks a framed
// serial protocol: 0xFE 0xFE <len> <cmd> <data...> 0xFA. Joint positions
// travel as big-endian int16 centidegrees, which is the raw unit this family
// reports. Unlike the servo-bus family it exposes a discrete gripper and an
// RGB indicator.
type CobotBus struct {
	port serial.Port

	// One transaction on the wire at a time.
	mu sync.Mutex
}

const (
	cobotBaudRate    = 115200
	cobotReadTimeout = 200 * time.Millisecond

	frameHeader = 0xFE
	frameFooter = 0xFA

	cmdPowerOn    = 0x10
	cmdPowerOff   = 0x11
	cmdGetAngles  = 0x20
	cmdSendAngles = 0x22
	cmdSetGripper = 0x67
	cmdSetColor   = 0x6A

	// Motion speed percentage used for all position writes.
	cobotMoveSpeed = 50

	gripperClosedValue = 0
	gripperOpenValue   = 255
)

// OpenCobot opens the serial channel to the arm controller.
func OpenCobot(portName string) (*CobotBus, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: cobotBaudRate})
	if err != nil {
		return nil, fmt.Errorf("%w: open cobot on %s: %w", ErrConnection, portName, err)
	}
	if err := port.SetReadTimeout(cobotReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("%w: set read timeout: %w", ErrConnection, err)
	}
	return &CobotBus{port: port}, nil
}

// encodeFrame builds one command frame.
func encodeFrame(cmd byte, data []byte) []byte {
	frame := make([]byte, 0, len(data)+5)
	frame = append(frame, frameHeader, frameHeader, byte(len(data)+2), cmd)
	frame = append(frame, data...)
	return append(frame, frameFooter)
}

// decodeAngles unpacks six big-endian int16 centidegree values.
func decodeAngles(data []byte) (RawVector, error) {
	if len(data) != NumJoints*2 {
		return nil, fmt.Errorf("%w: angle payload is %d bytes, want %d", ErrCommunication, len(data), NumJoints*2)
	}
	raw := make(RawVector, NumJoints)
	for i := 0; i < NumJoints; i++ {
		raw[i] = int(int16(uint16(data[2*i])<<8 | uint16(data[2*i+1])))
	}
	return raw, nil
}

// encodeAngles packs six centidegree values as big-endian int16.
func encodeAngles(raw RawVector) []byte {
	data := make([]byte, 0, NumJoints*2)
	for _, v := range raw {
		data = append(data, byte(uint16(int16(v))>>8), byte(uint16(int16(v))))
	}
	return data
}

// transact sends one frame and, when wantReply is set, reads the response
// payload for the same command.
func (b *CobotBus) transact(ctx context.Context, cmd byte, data []byte, wantReply bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.port.Write(encodeFrame(cmd, data)); err != nil {
		return nil, fmt.Errorf("%w: write command %#x: %w", ErrCommunication, cmd, err)
	}
	if !wantReply {
		return nil, nil
	}
	return b.readReply(cmd)
}

// readReply scans the wire for the next well-formed frame matching cmd.
func (b *CobotBus) readReply(cmd byte) ([]byte, error) {
	buf := make([]byte, 0, 64)
	chunk := make([]byte, 32)
	deadline := time.Now().Add(cobotReadTimeout)

	for time.Now().Before(deadline) {
		n, err := b.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: read reply for command %#x: %w", ErrCommunication, cmd, err)
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) >= 5 {
			if buf[0] != frameHeader || buf[1] != frameHeader {
				buf = buf[1:]
				continue
			}
			totalLen := int(buf[2]) + 3
			if len(buf) < totalLen {
				break
			}
			frame := buf[:totalLen]
			buf = buf[totalLen:]
			if frame[totalLen-1] != frameFooter || frame[3] != cmd {
				continue
			}
			return frame[4 : totalLen-1], nil
		}
	}
	return nil, fmt.Errorf("%w: timed out waiting for reply to command %#x", ErrCommunication, cmd)
}

// ReadPositions reads all joint positions in centidegrees.
func (b *CobotBus) ReadPositions(ctx context.Context) (RawVector, error) {
	payload, err := b.transact(ctx, cmdGetAngles, nil, true)
	if err != nil {
		return nil, err
	}
	return decodeAngles(payload)
}

// WritePositions sends target joint positions in centidegrees.
func (b *CobotBus) WritePositions(ctx context.Context, raw RawVector) error {
	if err := checkVectorLen(raw); err != nil {
		return err
	}
	data := append(encodeAngles(raw), cobotMoveSpeed)
	_, err := b.transact(ctx, cmdSendAngles, data, false)
	return err
}

// EnableTorque powers the arm on.
func (b *CobotBus) EnableTorque(ctx context.Context) error {
	_, err := b.transact(ctx, cmdPowerOn, nil, false)
	return err
}

// DisableTorque powers the arm off so it can be moved by hand.
func (b *CobotBus) DisableTorque(ctx context.Context) error {
	_, err := b.transact(ctx, cmdPowerOff, nil, false)
	return err
}

// SetGripper closes or opens the gripper at the default speed.
func (b *CobotBus) SetGripper(ctx context.Context, closed bool) error {
	value := byte(gripperOpenValue)
	if closed {
		value = gripperClosedValue
	}
	_, err := b.transact(ctx, cmdSetGripper, []byte{value, cobotMoveSpeed}, false)
	return err
}

// SetIndicator sets the controller's RGB indicator.
func (b *CobotBus) SetIndicator(ctx context.Context, r, g, bl byte) error {
	_, err := b.transact(ctx, cmdSetColor, []byte{r, g, bl}, false)
	return err
}

// Capabilities reports the full optional set for this family.
func (b *CobotBus) Capabilities() Capability {
	return CapReadPositions | CapWritePositions | CapTorque | CapGripper | CapIndicator
}

// Close releases the serial channel.
func (b *CobotBus) Close() error {
	return b.port.Close()
}
