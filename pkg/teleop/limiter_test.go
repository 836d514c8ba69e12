package teleop

import (
	"math"
	"testing"

	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
)

func TestLimiter_ClampsLargeDeltas(t *testing.T) {
	l := Limiter{MaxDelta: MaxDeltaDegrees(10)}
	prev := robot.JointVector{0, 0, 0, 0, 0, 0}
	want := robot.JointVector{5, -5, 30, -30, 10, -10}

	got := l.Apply(prev, want)
	expected := robot.JointVector{5, -5, 10, -10, 10, -10}
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-9 {
			t.Errorf("joint %d: got %f, want %f", i, got[i], expected[i])
		}
	}
}

func TestLimiter_SmallDeltasPassUnchanged(t *testing.T) {
	max := 10.0
	l := Limiter{MaxDelta: &max}
	prev := robot.JointVector{10, 20, 30, 40, 50, 60}
	want := robot.JointVector{15, 12, 30, 49.9, 40.1, 60}

	got := l.Apply(prev, want)
	for i := range want {
		requested := want[i] - prev[i]
		if math.Abs(requested) <= max && math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("joint %d: delta %f within limit but output %f != requested %f",
				i, requested, got[i], want[i])
		}
	}
}

func TestLimiter_OutputDeltaNeverExceedsMax(t *testing.T) {
	max := 7.5
	l := Limiter{MaxDelta: &max}
	prev := robot.JointVector{0, 0, 0, 0, 0, 0}

	// Feed a sequence of erratic requests; no step may exceed the bound.
	requests := []robot.JointVector{
		{100, -100, 3, 8, -8, 0},
		{-50, 50, 7.5, -7.5, 7.6, -7.6},
		{0.1, -0.1, 200, -200, 0, 0},
	}
	for _, want := range requests {
		got := l.Apply(prev, want)
		for i := range got {
			if d := math.Abs(got[i] - prev[i]); d > max+1e-9 {
				t.Errorf("delta %f exceeds max %f", d, max)
			}
		}
		prev = got
	}
}

func TestLimiter_NilMaxDeltaPassesThrough(t *testing.T) {
	l := Limiter{}
	prev := robot.JointVector{0, 0, 0, 0, 0, 0}
	want := robot.JointVector{500, -500, 0, 1, 2, 3}

	got := l.Apply(prev, want)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("joint %d: got %f, want %f", i, got[i], want[i])
		}
	}
}
