// Package camera provides timestamped frame capture from camera sources.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCapture means a frame could not be produced. Degrades the source to
// "repeat last frame" at the recorder; never fatal to an episode.
var ErrCapture = errors.New("capture error")

// DefaultCaptureTimeout bounds how long Capture waits for a source that has
// not yet produced its first frame.
const DefaultCaptureTimeout = 100 * time.Millisecond

// Frame is one captured image. Ownership transfers to the caller on
// capture; Data is never reused by the source.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	SourceID  string
}

// Source produces frames from one camera. Sources are independent: failure
// of one never affects the others. Capture is opportunistic and never
// blocks beyond a bounded wait; a source with no new frame since the last
// capture returns the most recent frame again.
type Source interface {
	ID() string
	Start(ctx context.Context) error
	Capture(ctx context.Context) (Frame, error)
	Stop() error
}

// latest is a single-frame mailbox shared by source implementations. The
// producer goroutine overwrites it; Capture reads the most recent frame,
// waiting only for the very first one.
type latest struct {
	mu    sync.Mutex
	frame Frame
	ok    bool

	readyOnce sync.Once
	ready     chan struct{}
}

func newLatest() *latest {
	return &latest{ready: make(chan struct{})}
}

func (l *latest) set(f Frame) {
	l.mu.Lock()
	l.frame = f
	l.ok = true
	l.mu.Unlock()
	l.readyOnce.Do(func() { close(l.ready) })
}

// get returns the most recent frame, waiting up to timeout for the first
// one to arrive.
func (l *latest) get(ctx context.Context, sourceID string, timeout time.Duration) (Frame, error) {
	l.mu.Lock()
	if l.ok {
		f := l.frame
		l.mu.Unlock()
		return f, nil
	}
	l.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.ready:
		l.mu.Lock()
		f := l.frame
		l.mu.Unlock()
		return f, nil
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("%w: source %s: %v", ErrCapture, sourceID, ctx.Err())
	case <-t.C:
		return Frame{}, fmt.Errorf("%w: source %s produced no frame within %s", ErrCapture, sourceID, timeout)
	}
}
