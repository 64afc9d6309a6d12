package teleop

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gwillem/glove/pkg/imu"
)

// idleBackoff is how long the reader waits after an empty read, which is
// what a serial port returns when its read timeout expires.
const idleBackoff = 2 * time.Millisecond

// FrameSource reads delimiter-terminated frames from a stream on its own
// goroutine and keeps only the most recent one.
type FrameSource struct {
	latest chan []byte
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewFrameSource starts reading r. Reading stops when ctx is done or r
// fails.
func NewFrameSource(ctx context.Context, r io.Reader) *FrameSource {
	s := &FrameSource{
		latest: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go s.run(ctx, r)
	return s
}

func (s *FrameSource) run(ctx context.Context, r io.Reader) {
	defer close(s.done)

	sc := imu.NewScanner(&patientReader{ctx: ctx, r: r})
	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)
		select {
		case s.latest <- frame:
		default:
			select {
			case <-s.latest:
			default:
			}
			s.latest <- frame
		}
	}

	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Latest returns the newest unread frame, if any.
func (s *FrameSource) Latest() ([]byte, bool) {
	select {
	case f := <-s.latest:
		return f, true
	default:
		return nil, false
	}
}

// Next waits for a frame.
func (s *FrameSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case f := <-s.latest:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// A frame may have been queued just before the reader stopped.
		if f, ok := s.Latest(); ok {
			return f, nil
		}
		return nil, s.Err()
	}
}

// Done is closed when the reader has stopped.
func (s *FrameSource) Done() <-chan struct{} {
	return s.done
}

// Err returns why the reader stopped, or nil while it is running.
func (s *FrameSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// patientReader retries empty reads until data arrives or ctx is done, so
// a timed-out serial read does not look like a stalled stream.
type patientReader struct {
	ctx context.Context
	r   io.Reader
}

func (p *patientReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-p.ctx.Done():
			return 0, p.ctx.Err()
		case <-time.After(idleBackoff):
		}
	}
}

// Stopped reports whether err only means the source was shut down.
func Stopped(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}
