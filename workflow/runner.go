package workflow

import (
	"context"
	"sync"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/liveness"
)

// Convenience aliases so callers of this package deal with one vocabulary.
type Result = liveness.Result

const (
	OutcomeVerified = liveness.OutcomeVerified
	OutcomeRejected = liveness.OutcomeRejected
	OutcomeAborted  = liveness.OutcomeAborted
	OutcomeTimedOut = liveness.OutcomeTimedOut
)

// LivenessRunner runs a single liveness session to completion and returns
// the terminal result plus the captured face frame (empty unless verified).
type LivenessRunner interface {
	Run(ctx context.Context, status func(string)) (Result, string)
}

// SocketRunner is the production LivenessRunner: it acquires the camera,
// starts a websocket liveness session and waits for its outcome. A workflow
// holds at most one running session at a time.
type SocketRunner struct {
	// Config for each session; the URL decides register vs verify task.
	Config liveness.Config
	// OpenCamera acquires the device. An error is reported as an aborted
	// outcome without opening a socket.
	OpenCamera func() (liveness.FrameSource, error)
}

func (r *SocketRunner) Run(ctx context.Context, status func(string)) (Result, string) {
	source, err := r.OpenCamera()
	if err != nil {
		if status != nil {
			status("camera unavailable")
		}
		return Result{Outcome: liveness.OutcomeAborted, Reason: "camera unavailable"}, ""
	}

	recorder := &recordingSource{inner: source}
	cfg := r.Config
	cfg.StatusFunc = status

	session := liveness.Start(cfg, recorder)
	select {
	case res := <-session.Done():
		if res.Outcome == liveness.OutcomeVerified {
			return res, recorder.last()
		}
		return res, ""
	case <-ctx.Done():
		session.Cancel()
		res := <-session.Done()
		return res, ""
	}
}

// recordingSource remembers the last frame sent so the workflow can attach
// it to the registration record after a verified session.
type recordingSource struct {
	inner liveness.FrameSource

	mu        sync.Mutex
	lastFrame string
}

func (r *recordingSource) NextFrame() (string, error) {
	frame, err := r.inner.NextFrame()
	if err == nil {
		r.mu.Lock()
		r.lastFrame = frame
		r.mu.Unlock()
	}
	return frame, err
}

func (r *recordingSource) Close() error {
	return r.inner.Close()
}

func (r *recordingSource) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFrame
}
