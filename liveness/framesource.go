package liveness

import (
	"errors"
	"sync"
)

// CaptureFunc adapts a frame-grabbing function into a FrameSource. The
// release callback (camera teardown) may be nil.
func CaptureFunc(next func() (string, error), release func() error) FrameSource {
	return &funcSource{next: next, release: release}
}

type funcSource struct {
	next    func() (string, error)
	release func() error

	closeOnce sync.Once
	closeErr  error
}

func (f *funcSource) NextFrame() (string, error) {
	return f.next()
}

func (f *funcSource) Close() error {
	f.closeOnce.Do(func() {
		if f.release != nil {
			f.closeErr = f.release()
		}
	})
	return f.closeErr
}

// StaticFrameSource cycles over a fixed set of pre-encoded frames. Useful
// for demos and tests where no real camera is available.
type StaticFrameSource struct {
	mu     sync.Mutex
	frames []string
	idx    int
	closed bool
}

var ErrSourceClosed = errors.New("frame source is closed")

func NewStaticFrameSource(frames ...string) *StaticFrameSource {
	return &StaticFrameSource{frames: frames}
}

func (s *StaticFrameSource) NextFrame() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSourceClosed
	}
	if len(s.frames) == 0 {
		return "", errors.New("no frames available")
	}
	frame := s.frames[s.idx%len(s.frames)]
	s.idx++
	return frame, nil
}

func (s *StaticFrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *StaticFrameSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
