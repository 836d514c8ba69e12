package record

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
	"github.com/hanahanaworks/xtl-lerobot/pkg/teleop"
)

// DefaultFPS is the default recording frequency. Lower than the raw
// teleoperation rate so camera sources can keep up with the step rate.
const DefaultFPS = 30

// Sink receives finished episodes. The dataset writer implements it.
type Sink interface {
	WriteEpisode(ep *Episode) error
}

// Config holds configuration for a recorder.
type Config struct {
	// Controller is the teleoperation loop being recorded. The recorder
	// drives it step by step; the controller's own Run is not used.
	Controller *teleop.Controller
	// Sources are the camera sources sampled each step. They must be
	// started by the caller.
	Sources []camera.Source
	FPS     int
	// Warmup is driven before episode 1; the operator settles into the
	// task while steps are discarded.
	Warmup time.Duration
	// Reset runs between episodes: the loop keeps following but nothing
	// is recorded while the scene is put back.
	Reset time.Duration
	// EpisodeTime is the recorded duration of each episode.
	EpisodeTime time.Duration
	// Task is the natural-language task label stored with every step.
	Task string
	// KeepOnCancel keeps the partial episode when the context is
	// cancelled mid-episode instead of discarding it.
	KeepOnCancel bool
}

// Recorder collects episodes by stepping a teleoperation controller at a
// fixed frequency and sampling every camera source once per step.
type Recorder struct {
	ctrl    *teleop.Controller
	sources []camera.Source
	fps     int
	cfg     Config

	// last holds the most recent frame per source, so a source that
	// fails a capture contributes its previous frame instead of a gap.
	last map[string]camera.Frame
}

// NewRecorder creates a recorder over a controller and camera sources.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("recorder requires a controller")
	}
	if cfg.EpisodeTime <= 0 {
		return nil, fmt.Errorf("episode time must be positive, got %s", cfg.EpisodeTime)
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Recorder{
		ctrl:    cfg.Controller,
		sources: cfg.Sources,
		fps:     fps,
		cfg:     cfg,
		last:    make(map[string]camera.Frame),
	}, nil
}

// StepsPerEpisode is the number of steps a full episode holds.
func (r *Recorder) StepsPerEpisode() int {
	return int(math.Round(float64(r.fps) * r.cfg.EpisodeTime.Seconds()))
}

func (r *Recorder) period() time.Duration {
	return time.Second / time.Duration(r.fps)
}

// RecordEpisode records one episode of the configured duration. A
// communication fault ends the episode at the steps recorded so far and is
// returned alongside the partial episode. Cancellation discards the episode
// (nil, ctx.Err()) unless KeepOnCancel is set.
func (r *Recorder) RecordEpisode(ctx context.Context, index int) (*Episode, error) {
	ep := &Episode{Index: index, StartedAt: time.Now(), Task: r.cfg.Task}
	target := r.StepsPerEpisode()
	period := r.period()

	slog.Info("record: episode started", "episode", index, "steps", target, "fps", r.fps)

	for i := 0; i < target; i++ {
		if err := ctx.Err(); err != nil {
			if r.cfg.KeepOnCancel {
				slog.Warn("record: cancelled, keeping partial episode",
					"episode", index, "steps", len(ep.Steps))
				return ep, err
			}
			slog.Warn("record: cancelled, discarding episode", "episode", index)
			return nil, err
		}

		started := time.Now()
		st := r.ctrl.Step(ctx)
		if st.Err != nil {
			slog.Error("record: communication fault, ending episode",
				"episode", index, "steps", len(ep.Steps), "error", st.Err)
			return ep, st.Err
		}

		ep.Steps = append(ep.Steps, Step{
			Index:     i,
			Timestamp: st.Timestamp,
			Leader:    st.Leader,
			Follower:  st.Follower,
			Target:    st.Target,
			Frames:    r.captureFrames(ctx),
		})

		if remaining := period - time.Since(started); remaining > 0 {
			sleep(ctx, remaining)
		}
	}

	slog.Info("record: episode finished", "episode", index, "steps", len(ep.Steps))
	return ep, nil
}

// captureFrames samples every source once, best-effort. A failed capture
// falls back to the source's previous frame; a source that never produced
// anything is simply absent from the map. Camera trouble never fails a step.
func (r *Recorder) captureFrames(ctx context.Context) map[string]camera.Frame {
	if len(r.sources) == 0 {
		return nil
	}
	frames := make(map[string]camera.Frame, len(r.sources))
	for _, src := range r.sources {
		f, err := src.Capture(ctx)
		if err != nil {
			if prev, ok := r.last[src.ID()]; ok {
				frames[src.ID()] = prev
			}
			continue
		}
		r.last[src.ID()] = f
		frames[src.ID()] = f
	}
	return frames
}

// drive steps the controller for a window without recording anything.
// Communication faults are logged and the window continues; the operator
// sees the arm stop tracking and can intervene.
func (r *Recorder) drive(ctx context.Context, window time.Duration, phase string) error {
	if window <= 0 {
		return nil
	}
	slog.Info("record: "+phase+" window", "duration", window)
	period := r.period()
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		started := time.Now()
		if st := r.ctrl.Step(ctx); st.Err != nil {
			slog.Warn("record: step fault during "+phase, "error", st.Err)
		}
		if remaining := period - time.Since(started); remaining > 0 {
			sleep(ctx, remaining)
		}
	}
	return nil
}

// Run records episodes in sequence and hands each finished episode to the
// sink. The warmup window precedes episode 0; the reset window runs between
// episodes. A communication fault writes the partial episode before the
// fault is returned.
func (r *Recorder) Run(ctx context.Context, episodes int, sink Sink) error {
	r.ctrl.Prepare(ctx)

	for i := 0; i < episodes; i++ {
		var err error
		if i == 0 {
			err = r.drive(ctx, r.cfg.Warmup, "warmup")
		} else {
			err = r.drive(ctx, r.cfg.Reset, "reset")
		}
		if err != nil {
			return err
		}

		ep, recErr := r.RecordEpisode(ctx, i)
		if ep != nil && len(ep.Steps) > 0 && sink != nil {
			if werr := sink.WriteEpisode(ep); werr != nil {
				return fmt.Errorf("write episode %d: %w", i, werr)
			}
		}
		if recErr != nil {
			return recErr
		}
	}
	return nil
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
