package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hanahanaworks/xtl-lerobot/pkg/camera"
	"github.com/hanahanaworks/xtl-lerobot/pkg/robot"
	"github.com/hanahanaworks/xtl-lerobot/pkg/teleop"
)

func simCalibration() robot.Calibration {
	cal := robot.Calibration{}
	for i, name := range robot.AllMotors() {
		cal[name] = robot.MotorCalibration{
			ID:           i + 1,
			HomingOffset: 2048,
			RangeMin:     1024,
			RangeMax:     3072,
		}
	}
	return cal
}

type simRig struct {
	leaderBus   *robot.SimBus
	followerBus *robot.SimBus
	ctrl        *teleop.Controller
}

func newSimRig(t *testing.T) *simRig {
	t.Helper()
	cal := simCalibration()
	leaderBus := robot.NewSimBus(2048)
	followerBus := robot.NewSimBus(2048)
	ctrl, err := teleop.NewController(teleop.Config{
		Leader:   robot.NewArm(leaderBus, cal),
		Follower: robot.NewArm(followerBus, cal),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &simRig{leaderBus: leaderBus, followerBus: followerBus, ctrl: ctrl}
}

func newTestRecorder(t *testing.T, rig *simRig, cfg Config) *Recorder {
	t.Helper()
	cfg.Controller = rig.ctrl
	r, err := NewRecorder(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestRecordEpisodeStepCount(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:         50,
		EpisodeTime: time.Second,
		Task:        "pick up the block",
	})

	if got := r.StepsPerEpisode(); got != 50 {
		t.Fatalf("StepsPerEpisode() = %d, want 50", got)
	}

	ep, err := r.RecordEpisode(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ep.Steps) != 50 {
		t.Errorf("recorded %d steps, want 50", len(ep.Steps))
	}
	if ep.Task != "pick up the block" {
		t.Errorf("Task = %q", ep.Task)
	}
	for i, st := range ep.Steps {
		if st.Index != i {
			t.Fatalf("step %d has index %d", i, st.Index)
		}
		if i > 0 && st.Timestamp.Before(ep.Steps[i-1].Timestamp) {
			t.Fatalf("step %d timestamp precedes step %d", i, i-1)
		}
		if len(st.Leader) != robot.NumJoints || len(st.Target) != robot.NumJoints {
			t.Fatalf("step %d has incomplete vectors", i)
		}
	}
}

func TestRecordEpisodeCapturesFrames(t *testing.T) {
	rig := newSimRig(t)
	src := camera.NewSimSource("top", 200)
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	r := newTestRecorder(t, rig, Config{
		Sources:     []camera.Source{src},
		FPS:         50,
		EpisodeTime: 200 * time.Millisecond,
	})

	ep, err := r.RecordEpisode(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	withFrame := 0
	for _, st := range ep.Steps {
		if f, ok := st.Frames["top"]; ok {
			if f.SourceID != "top" {
				t.Fatalf("frame from wrong source: %q", f.SourceID)
			}
			withFrame++
		}
	}
	if withFrame == 0 {
		t.Error("no step carried a frame from the running source")
	}
}

func TestDeadSourceDoesNotReduceStepCount(t *testing.T) {
	rig := newSimRig(t)
	dead := camera.NewSimSource("wrist", 100)
	dead.Stall(true)
	if err := dead.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer dead.Stop()

	r := newTestRecorder(t, rig, Config{
		Sources:     []camera.Source{dead},
		FPS:         20,
		EpisodeTime: 250 * time.Millisecond,
	})

	ep, err := r.RecordEpisode(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := r.StepsPerEpisode(); len(ep.Steps) != want {
		t.Errorf("recorded %d steps, want %d despite dead camera", len(ep.Steps), want)
	}
	for i, st := range ep.Steps {
		if _, ok := st.Frames["wrist"]; ok {
			t.Fatalf("step %d carries a frame from a source that never produced one", i)
		}
	}
}

func TestStalledSourceRepeatsLastFrame(t *testing.T) {
	rig := newSimRig(t)
	src := camera.NewSimSource("top", 500)
	if err := src.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer src.Stop()

	r := newTestRecorder(t, rig, Config{
		Sources:     []camera.Source{src},
		FPS:         20,
		EpisodeTime: 100 * time.Millisecond,
	})

	// Prime the recorder's last-frame cache, then stall the source. The
	// mailbox keeps repeating the newest frame, so every later step still
	// carries one.
	if _, err := r.RecordEpisode(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	src.Stall(true)
	time.Sleep(20 * time.Millisecond)

	ep2, err := r.RecordEpisode(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, st := range ep2.Steps {
		if _, ok := st.Frames["top"]; !ok {
			t.Fatalf("step %d lost the repeated frame", i)
		}
	}
}

func TestCommFaultEndsEpisodeEarly(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:         50,
		EpisodeTime: time.Second,
	})

	fault := errors.New("wire pulled")
	time.AfterFunc(100*time.Millisecond, func() {
		rig.leaderBus.SetFault(fault)
	})

	ep, err := r.RecordEpisode(context.Background(), 0)
	if err == nil {
		t.Fatal("expected a communication fault")
	}
	if !errors.Is(err, robot.ErrCommunication) {
		t.Fatalf("err = %v, want ErrCommunication", err)
	}
	if ep == nil {
		t.Fatal("partial episode discarded on fault")
	}
	if len(ep.Steps) == 0 || len(ep.Steps) >= r.StepsPerEpisode() {
		t.Errorf("episode has %d steps, want partial count below %d", len(ep.Steps), r.StepsPerEpisode())
	}
}

func TestCancelDiscardsEpisode(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:         50,
		EpisodeTime: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)

	ep, err := r.RecordEpisode(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ep != nil {
		t.Errorf("cancelled episode should be discarded, got %d steps", len(ep.Steps))
	}
}

func TestCancelKeepsEpisodeWhenConfigured(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:          50,
		EpisodeTime:  time.Second,
		KeepOnCancel: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(60*time.Millisecond, cancel)

	ep, err := r.RecordEpisode(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ep == nil || len(ep.Steps) == 0 {
		t.Error("KeepOnCancel should retain the partial episode")
	}
}

type collectSink struct {
	episodes []*Episode
}

func (s *collectSink) WriteEpisode(ep *Episode) error {
	s.episodes = append(s.episodes, ep)
	return nil
}

func TestRunRecordsEpisodesInSequence(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:         50,
		EpisodeTime: 100 * time.Millisecond,
		Warmup:      40 * time.Millisecond,
		Reset:       40 * time.Millisecond,
	})

	sink := &collectSink{}
	if err := r.Run(context.Background(), 3, sink); err != nil {
		t.Fatal(err)
	}
	if len(sink.episodes) != 3 {
		t.Fatalf("sink received %d episodes, want 3", len(sink.episodes))
	}
	for i, ep := range sink.episodes {
		if ep.Index != i {
			t.Errorf("episode %d has index %d", i, ep.Index)
		}
		if len(ep.Steps) == 0 {
			t.Errorf("episode %d is empty", i)
		}
	}
	if !rig.followerBus.TorqueEnabled() {
		t.Error("follower torque should be enabled after Prepare")
	}
}

func TestRunWritesPartialEpisodeOnFault(t *testing.T) {
	rig := newSimRig(t)
	r := newTestRecorder(t, rig, Config{
		FPS:         50,
		EpisodeTime: time.Second,
	})

	time.AfterFunc(100*time.Millisecond, func() {
		rig.followerBus.SetFault(errors.New("brownout"))
	})

	sink := &collectSink{}
	err := r.Run(context.Background(), 2, sink)
	if !errors.Is(err, robot.ErrCommunication) {
		t.Fatalf("err = %v, want ErrCommunication", err)
	}
	if len(sink.episodes) != 1 {
		t.Fatalf("sink received %d episodes, want the single partial one", len(sink.episodes))
	}
	if n := len(sink.episodes[0].Steps); n == 0 {
		t.Error("partial episode was written empty")
	}
}
