package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SimSource generates synthetic frames at a fixed rate. It backs tests and
// the --sim mode of the CLI.
type SimSource struct {
	id     string
	fps    float64
	width  int
	height int

	latest  *latest
	seq     uint64
	timeout time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stalled bool
}

// NewSimSource creates a synthetic source producing small RGB frames.
func NewSimSource(id string, fps float64) *SimSource {
	if fps <= 0 {
		fps = 30
	}
	return &SimSource{
		id:      id,
		fps:     fps,
		width:   64,
		height:  48,
		latest:  newLatest(),
		timeout: DefaultCaptureTimeout,
	}
}

// ID returns the source identifier.
func (s *SimSource) ID() string { return s.id }

// Stall makes the source stop producing new frames without failing;
// Capture then repeats the most recent frame. Used to exercise the
// repeat-last behavior.
func (s *SimSource) Stall(stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled = stalled
}

// Start launches the synthetic frame producer.
func (s *SimSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("sim source %s already started", s.id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(time.Duration(float64(time.Second) / s.fps))
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				stalled := s.stalled
				s.mu.Unlock()
				if stalled {
					continue
				}
				s.latest.set(s.makeFrame())
			}
		}
	}()
	return nil
}

func (s *SimSource) makeFrame() Frame {
	seq := atomic.AddUint64(&s.seq, 1)
	data := make([]byte, s.width*s.height*3)
	// A moving gradient so consecutive frames differ.
	shade := byte(seq % 251)
	for i := range data {
		data[i] = shade + byte(i%5)
	}
	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      data,
		SourceID:  s.id,
	}
}

// Capture returns the most recent synthetic frame.
func (s *SimSource) Capture(ctx context.Context) (Frame, error) {
	return s.latest.get(ctx, s.id, s.timeout)
}

// Stop halts the producer. Idempotent.
func (s *SimSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
