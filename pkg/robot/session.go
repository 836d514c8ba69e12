package robot

import (
	"fmt"
)

// SessionState is the phase of a calibration session.
type SessionState int

const (
	// StateIdle is the initial phase, before range capture starts.
	StateIdle SessionState = iota
	// StateCapturingRange: the operator moves each joint through its full
	// range while raw extremes are sampled.
	StateCapturingRange
	// StateFinalizing: ranges are accepted, waiting for the neutral pose.
	StateFinalizing
	// StatePersisted is terminal; the calibration has been written.
	StatePersisted
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturingRange:
		return "capturing-range"
	case StateFinalizing:
		return "finalizing"
	case StatePersisted:
		return "persisted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMinRange is the minimum raw span a joint must cover during
// capture before the session can finalize.
const DefaultMinRange = 500

// SessionConfig tunes a calibration session.
type SessionConfig struct {
	// MinRange overrides DefaultMinRange when positive.
	MinRange int
	// Inverted lists joints whose angle grows against the raw count
	// (drive mode 1).
	Inverted []MotorName
}

// Session runs the calibration state machine for one arm. Operator events
// ("range captured", "neutral pose confirmed") arrive as ConfirmRange and
// ConfirmNeutral calls; continuous raw samples arrive through Observe.
type Session struct {
	state    SessionState
	minRange int
	inverted map[MotorName]bool

	cur, min, max RawVector
	neutral       RawVector
}

// NewSession creates an idle calibration session.
func NewSession(cfg SessionConfig) *Session {
	minRange := cfg.MinRange
	if minRange <= 0 {
		minRange = DefaultMinRange
	}
	inverted := make(map[MotorName]bool, len(cfg.Inverted))
	for _, name := range cfg.Inverted {
		inverted[name] = true
	}
	return &Session{
		state:    StateIdle,
		minRange: minRange,
		inverted: inverted,
	}
}

// State returns the current phase.
func (s *Session) State() SessionState { return s.state }

// Current returns the last observed raw sample.
func (s *Session) Current() RawVector { return s.cur.Clone() }

// Min returns the running raw minimum per joint.
func (s *Session) Min() RawVector { return s.min.Clone() }

// Max returns the running raw maximum per joint.
func (s *Session) Max() RawVector { return s.max.Clone() }

func (s *Session) expect(want SessionState, op string) error {
	if s.state != want {
		return fmt.Errorf("calibration %s: session is %s, want %s", op, s.state, want)
	}
	return nil
}

// Begin starts range capture from an initial raw sample.
func (s *Session) Begin(initial RawVector) error {
	if err := s.expect(StateIdle, "begin"); err != nil {
		return err
	}
	if err := checkVectorLen(initial); err != nil {
		return err
	}
	s.cur = initial.Clone()
	s.min = initial.Clone()
	s.max = initial.Clone()
	s.state = StateCapturingRange
	return nil
}

// Observe folds one raw sample into the running min/max.
func (s *Session) Observe(raw RawVector) error {
	if err := s.expect(StateCapturingRange, "observe"); err != nil {
		return err
	}
	if err := checkVectorLen(raw); err != nil {
		return err
	}
	s.cur = raw.Clone()
	for i, v := range raw {
		if v < s.min[i] {
			s.min[i] = v
		}
		if v > s.max[i] {
			s.max[i] = v
		}
	}
	return nil
}

// ConfirmRange accepts the captured ranges and moves to the neutral-pose
// phase. Every joint must have covered at least the minimum range;
// otherwise the session stays in range capture and the error names the
// first joint that fell short, so the operator can re-sample.
func (s *Session) ConfirmRange() error {
	if err := s.expect(StateCapturingRange, "confirm range"); err != nil {
		return err
	}
	for i, name := range AllMotors() {
		if span := s.max[i] - s.min[i]; span < s.minRange {
			return fmt.Errorf("%w: joint %s covered %d counts, need at least %d",
				ErrInsufficientRange, name, span, s.minRange)
		}
	}
	s.state = StateFinalizing
	return nil
}

// ConfirmNeutral records the operator-confirmed neutral pose sample and
// produces the final calibration. The session becomes terminal.
func (s *Session) ConfirmNeutral(raw RawVector) (Calibration, error) {
	if err := s.expect(StateFinalizing, "confirm neutral"); err != nil {
		return nil, err
	}
	if err := checkVectorLen(raw); err != nil {
		return nil, err
	}
	s.neutral = raw.Clone()

	cal := make(Calibration, NumJoints)
	for i, name := range AllMotors() {
		driveMode := 0
		if s.inverted[name] {
			driveMode = 1
		}
		cal[name] = MotorCalibration{
			ID:           i + 1,
			DriveMode:    driveMode,
			HomingOffset: s.neutral[i],
			RangeMin:     s.min[i],
			RangeMax:     s.max[i],
		}
	}
	if err := cal.Validate(); err != nil {
		return nil, err
	}
	s.state = StatePersisted
	return cal, nil
}
