package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
	"github.com/hanahanaworks/xtl-lerobot/pkg/dataset"
	"github.com/hanahanaworks/xtl-lerobot/pkg/record"
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
	"github.com/hanahanaworks/xtl-lerobot/pkg/teleop"
)

type RecordCommand struct {
	Episodes     int     `long:"episodes" short:"n" default:"5" description:"Number of episodes to record"`
	FPS          int     `long:"fps" default:"30" description:"Recording frequency"`
	EpisodeTime  float64 `long:"episode-time" default:"15" description:"Episode duration in seconds"`
	Warmup       float64 `long:"warmup" default:"5" description:"Warmup window before the first episode, in seconds"`
	Reset        float64 `long:"reset" default:"10" description:"Reset window between episodes, in seconds"`
	Task         string  `long:"task" required:"true" description:"Task label stored with every step"`
	Out          string  `long:"out" description:"Session directory (default dataset/<timestamp>)"`
	MaxDelta     float64 `long:"max-delta" default:"10" description:"Max per-step follower motion in degrees (0 disables limiting)"`
	Sim          bool    `long:"sim" description:"Record from simulated arms and cameras"`
	KeepOnCancel bool    `long:"keep-on-cancel" description:"Keep the partial episode when interrupted"`
}

func (c *RecordCommand) Execute(args []string) error {
	var (
		leader, follower *robot.Arm
		sources          []camera.Source
		err              error
	)
	if c.Sim {
		leader, follower, sources = simRig()
	} else {
		var set *robot.ArmSet
		_, set, leader, follower, err = connectSet(opts.Set)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sources, err = openCameras(set.Cameras)
		if err != nil {
			leader.Close()
			follower.Close()
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	var maxDelta *float64
	if c.MaxDelta > 0 {
		maxDelta = teleop.MaxDeltaDegrees(c.MaxDelta)
	}
	ctrl, err := teleop.NewController(teleop.Config{
		Leader:   leader,
		Follower: follower,
		Hz:       c.FPS,
		MaxDelta: maxDelta,
	})
	if err != nil {
		leader.Close()
		follower.Close()
		fmt.Fprintf(os.Stderr, "Failed to create controller: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Arms with a controllable indicator show green while a session is live.
	if follower.Capabilities().Has(robot.CapIndicator) {
		follower.SetIndicator(ctx, 0, 255, 0)
		defer follower.SetIndicator(context.Background(), 0, 0, 0)
	}

	for _, src := range sources {
		if err := src.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start camera %s: %v\n", src.ID(), err)
			os.Exit(1)
		}
		defer src.Stop()
	}

	outDir := c.Out
	if outDir == "" {
		outDir = filepath.Join("dataset", time.Now().Format("20060102-150405"))
	}
	writer, err := dataset.Open(outDir, dataset.Config{FPS: c.FPS, Task: c.Task})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open session: %v\n", err)
		os.Exit(1)
	}
	defer writer.Close()

	recorder, err := record.NewRecorder(record.Config{
		Controller:   ctrl,
		Sources:      sources,
		FPS:          c.FPS,
		Warmup:       time.Duration(c.Warmup * float64(time.Second)),
		Reset:        time.Duration(c.Reset * float64(time.Second)),
		EpisodeTime:  time.Duration(c.EpisodeTime * float64(time.Second)),
		Task:         c.Task,
		KeepOnCancel: c.KeepOnCancel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create recorder: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Recording %d episode(s) of %.0fs at %d fps into %s\n",
		c.Episodes, c.EpisodeTime, c.FPS, outDir)
	fmt.Println("Press Ctrl+C to stop.")

	runErr := recorder.Run(ctx, c.Episodes, writer)
	if closeErr := writer.Close(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Failed to finalize session: %v\n", closeErr)
	}

	switch {
	case runErr == nil:
		fmt.Printf("Done. Session written to %s\n", outDir)
	case errors.Is(runErr, context.Canceled):
		fmt.Println("Interrupted. Session finalized.")
	default:
		fmt.Fprintf(os.Stderr, "Recording aborted: %v\n", runErr)
		os.Exit(1)
	}
	return nil
}

// simRig builds a fully simulated leader/follower pair and one synthetic
// camera, so recording can be exercised without hardware.
func simRig() (*robot.Arm, *robot.Arm, []camera.Source) {
	cal := robot.Calibration{}
	for i, name := range robot.AllMotors() {
		cal[name] = robot.MotorCalibration{
			ID:           i + 1,
			HomingOffset: 2048,
			RangeMin:     1024,
			RangeMax:     3072,
		}
	}
	leader := robot.NewArm(robot.NewSimBus(2048), cal)
	follower := robot.NewArm(robot.NewSimBus(2048), cal)
	return leader, follower, []camera.Source{camera.NewSimSource("sim", 30)}
}

func openCameras(configs []robot.CameraConfig) ([]camera.Source, error) {
	sources := make([]camera.Source, 0, len(configs))
	for _, cc := range configs {
		src, err := camera.NewGstSource(camera.GstConfig{
			ID:     cc.Name,
			Device: cc.Device,
			Width:  cc.Width,
			Height: cc.Height,
			FPS:    int(cc.FPS),
		})
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", cc.Name, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}
