package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// GstConfig describes a GStreamer-backed camera.
type GstConfig struct {
	// ID names the source in frames and dataset streams.
	ID string
	// Device is a V4L2 device path (e.g. /dev/video0).
	Device string
	Width  int
	Height int
	FPS    int
	// CaptureTimeout bounds the wait for the first frame; zero means
	// DefaultCaptureTimeout.
	CaptureTimeout time.Duration
}

// GstSource captures frames from a V4L2 camera through a GStreamer appsink
// pipeline. The appsink keeps only the newest buffer, so Capture always
// sees the most recent frame and a slow consumer never builds a backlog.
type GstSource struct {
	cfg     GstConfig
	timeout time.Duration

	latest *latest
	seq    uint64

	mu       sync.Mutex
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewGstSource validates the configuration; the pipeline is built on Start.
func NewGstSource(cfg GstConfig) (*GstSource, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("camera %s: device is required", cfg.ID)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 640, 480
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	timeout := cfg.CaptureTimeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &GstSource{cfg: cfg, timeout: timeout, latest: newLatest()}, nil
}

// ID returns the source identifier.
func (s *GstSource) ID() string { return s.cfg.ID }

// Start builds and plays the capture pipeline:
//
//	v4l2src → videoconvert → videoscale → videorate → capsfilter → appsink
func (s *GstSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return fmt.Errorf("camera %s already started", s.cfg.ID)
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("camera %s: create pipeline: %w", s.cfg.ID, err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("camera %s: create v4l2src: %w", s.cfg.ID, err)
	}
	src.SetProperty("device", s.cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("camera %s: create videoconvert: %w", s.cfg.ID, err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("camera %s: create videoscale: %w", s.cfg.ID, err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return fmt.Errorf("camera %s: create videorate: %w", s.cfg.ID, err)
	}
	rate.SetProperty("drop-only", true)
	rate.SetProperty("skip-to-first", true)

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("camera %s: create capsfilter: %w", s.cfg.ID, err)
	}
	capsStr := fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		s.cfg.Width, s.cfg.Height, s.cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("camera %s: create appsink: %w", s.cfg.ID, err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, rate, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, appsink.Element); err != nil {
		return fmt.Errorf("camera %s: link pipeline: %w", s.cfg.ID, err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("camera %s: start pipeline: %w", s.cfg.ID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.pipeline = pipeline
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.monitor(runCtx, pipeline)

	slog.Info("camera: source started",
		"id", s.cfg.ID,
		"device", s.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)
	return nil
}

// onNewSample copies the newest buffer out of the appsink into the
// single-frame mailbox. GStreamer reuses the buffer, so the data is copied.
func (s *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("camera: failed to pull sample, skipping frame", "id", s.cfg.ID)
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("camera: sample without buffer, skipping frame", "id", s.cfg.ID)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("camera: empty buffer received", "id", s.cfg.ID)
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	s.latest.set(Frame{
		Seq:       atomic.AddUint64(&s.seq, 1),
		Timestamp: time.Now(),
		Width:     s.cfg.Width,
		Height:    s.cfg.Height,
		Data:      frameData,
		SourceID:  s.cfg.ID,
	})
	return gst.FlowOK
}

// monitor watches the pipeline bus until Stop or context cancellation.
func (s *GstSource) monitor(ctx context.Context, pipeline *gst.Pipeline) {
	defer close(s.done)
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}
			switch msg.Type() {
			case gst.MessageEOS:
				slog.Info("camera: end of stream", "id", s.cfg.ID)
				return
			case gst.MessageError:
				gerr := msg.ParseError()
				slog.Error("camera: pipeline error", "id", s.cfg.ID, "error", gerr.Error())
				return
			}
		}
	}
}

// Capture returns the most recent frame, waiting only for the first one.
func (s *GstSource) Capture(ctx context.Context) (Frame, error) {
	return s.latest.get(ctx, s.cfg.ID, s.timeout)
}

// Stop tears down the pipeline. Idempotent.
func (s *GstSource) Stop() error {
	s.mu.Lock()
	pipeline, cancel, done := s.pipeline, s.cancel, s.done
	s.pipeline = nil
	s.cancel = nil
	s.mu.Unlock()
	if pipeline == nil {
		return nil
	}

	cancel()
	<-done
	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("camera %s: stop pipeline: %w", s.cfg.ID, err)
	}
	slog.Info("camera: source stopped", "id", s.cfg.ID, "frames", atomic.LoadUint64(&s.seq))
	return nil
}
