package robot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// MotorCalibration holds calibration data for a single motor.
//
// HomingOffset is the raw count sampled at the operator-confirmed neutral
// pose. RangeMin/RangeMax are the raw extremes observed while the joint was
// moved through its full range. DriveMode 0 means the joint angle grows with
// the raw count, 1 means it is inverted.
type MotorCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Validate checks the record invariants.
func (c MotorCalibration) Validate() error {
	if c.RangeMin >= c.RangeMax {
		return fmt.Errorf("motor %d: range_min %d must be below range_max %d", c.ID, c.RangeMin, c.RangeMax)
	}
	if c.DriveMode != 0 && c.DriveMode != 1 {
		return fmt.Errorf("motor %d: drive_mode must be 0 or 1, got %d", c.ID, c.DriveMode)
	}
	return nil
}

func (c MotorCalibration) sign() float64 {
	if c.DriveMode != 0 {
		return -1
	}
	return 1
}

func (c MotorCalibration) halfRange() float64 {
	return float64(c.RangeMax-c.RangeMin) / 2
}

// ToAngle converts a raw encoder count to a joint angle in degrees. The
// full observed range maps to [-180, 180] around the homing offset.
func (c MotorCalibration) ToAngle(raw int) float64 {
	hr := c.halfRange()
	if hr == 0 {
		return 0
	}
	return c.sign() * float64(raw-c.HomingOffset) * 180 / hr
}

// ToRaw converts a joint angle in degrees back to the nearest raw encoder
// count. It is the algebraic inverse of ToAngle up to count quantization.
func (c MotorCalibration) ToRaw(angle float64) int {
	return c.HomingOffset + int(math.Round(c.sign()*angle*c.halfRange()/180))
}

// Calibration holds calibration data for all motors, keyed by motor name.
type Calibration map[MotorName]MotorCalibration

// Validate checks that every joint is present and every record is sane.
func (c Calibration) Validate() error {
	for _, name := range AllMotors() {
		mc, ok := c[name]
		if !ok {
			return fmt.Errorf("missing calibration for %s", name)
		}
		if err := mc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// MotorIDs returns the servo IDs for all motors in joint order.
func (c Calibration) MotorIDs() []int {
	ids := make([]int, 0, len(c))
	for _, name := range AllMotors() {
		if mc, ok := c[name]; ok {
			ids = append(ids, mc.ID)
		}
	}
	return ids
}

// ByID returns motor name and calibration for a given servo ID.
func (c Calibration) ByID(id int) (MotorName, MotorCalibration, bool) {
	for name, mc := range c {
		if mc.ID == id {
			return name, mc, true
		}
	}
	return "", MotorCalibration{}, false
}

// ToAngles converts a raw vector to joint angles in joint order.
func (c Calibration) ToAngles(raw RawVector) JointVector {
	angles := make(JointVector, len(raw))
	for i, name := range AllMotors() {
		if i >= len(raw) {
			break
		}
		angles[i] = c[name].ToAngle(raw[i])
	}
	return angles
}

// ToRaw converts joint angles back to a raw vector in joint order.
func (c Calibration) ToRaw(angles JointVector) RawVector {
	raw := make(RawVector, len(angles))
	for i, name := range AllMotors() {
		if i >= len(angles) {
			break
		}
		raw[i] = c[name].ToRaw(angles[i])
	}
	return raw
}

// CalibrationPath returns the on-disk location of an arm's calibration
// within a calibration directory, keyed by arm-set identifier and arm role
// (leader/follower).
func CalibrationPath(dir, setID, arm string) string {
	return filepath.Join(dir, setID, arm+".json")
}

// LoadCalibration reads and validates a calibration file. A missing file is
// not an error: it signals "never calibrated" and the second return value is
// false, routing control into calibration mode.
func LoadCalibration(path string) (Calibration, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read calibration file: %w", err)
	}

	var raw map[string]MotorCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(raw))
	for name, mc := range raw {
		cal[MotorName(name)] = mc
	}
	if err := cal.Validate(); err != nil {
		return nil, false, fmt.Errorf("calibration %s: %w", path, err)
	}
	return cal, true, nil
}

// SaveCalibration persists a calibration, overwriting any previous record.
func SaveCalibration(path string, cal Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
