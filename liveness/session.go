// Package liveness runs a real-time liveness verification session against
// the vision websocket endpoint: it streams camera frames at a fixed
// cadence, consumes the per-frame verdict stream and aggregates it into a
// single terminal outcome.
package liveness

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// Outcome is the terminal result of a session. It is produced exactly once.
type Outcome string

const (
	OutcomeVerified Outcome = "verified"
	OutcomeRejected Outcome = "rejected"
	OutcomeAborted  Outcome = "aborted"
	OutcomeTimedOut Outcome = "timed_out"
)

// ConnectionState tracks the socket lifecycle.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateStreaming
	StateResolving
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateResolving:
		return "resolving"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// FrameSource yields encoded still frames sampled from the camera. The
// session calls Close exactly once on teardown, on every exit path, so the
// camera is never left locked.
type FrameSource interface {
	// NextFrame returns one base64 encoded frame ready to be sent as a
	// text message. An error aborts the session.
	NextFrame() (string, error)
	Close() error
}

type Config struct {
	// URL of the vision websocket endpoint, e.g. ws://host/ws/vision/verify.
	URL string
	// FrameInterval is the send cadence. Default 500ms.
	FrameInterval time.Duration
	// SessionTimeout bounds the whole session. Default 30s.
	SessionTimeout time.Duration
	// DialTimeout bounds the websocket handshake. Default 10s.
	DialTimeout time.Duration

	// ConsecutiveLive is how many consecutive qualifying live verdicts
	// resolve the session as verified. Default 3.
	ConsecutiveLive int
	// MinLiveConfidence is the confidence a live verdict needs to qualify.
	// Default 0.8.
	MinLiveConfidence float64
	// SpoofLimit is the total (not consecutive) number of spoof verdicts
	// that resolve the session as rejected. Default 3.
	SpoofLimit int

	// StatusFunc, when set, receives user-facing progress messages.
	StatusFunc func(string)
}

func (c *Config) applyDefaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 500 * time.Millisecond
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ConsecutiveLive <= 0 {
		c.ConsecutiveLive = 3
	}
	if c.MinLiveConfidence <= 0 {
		c.MinLiveConfidence = 0.8
	}
	if c.SpoofLimit <= 0 {
		c.SpoofLimit = 3
	}
}

// Result is delivered once on Done.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Session owns the socket and the frame source for one liveness check.
type Session struct {
	cfg    Config
	source FrameSource

	state atomic.Int32

	mu       sync.Mutex
	verdicts []models.Verdict

	resolveOnce sync.Once
	cancelOnce  sync.Once
	cancelCh    chan struct{}
	done        chan Result
}

// Start opens the socket and begins streaming frames from source. The
// returned session resolves exactly once; consume the result from Done.
// The frame source is closed on every exit path, including dial failure.
func Start(cfg Config, source FrameSource) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:      cfg,
		source:   source,
		cancelCh: make(chan struct{}),
		done:     make(chan Result, 1),
	}
	s.state.Store(int32(StateConnecting))
	s.status("connecting to verification service...")

	go s.run()
	return s
}

// Done delivers the terminal result. The channel is buffered; the result
// is available even if nobody is listening at resolution time.
func (s *Session) Done() <-chan Result {
	return s.done
}

// Cancel aborts the session. Cancelling after resolution is a no-op;
// calling it more than once is safe.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
	})
}

// State reports the current connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// Verdicts returns a copy of the verdicts received so far, in arrival order.
func (s *Session) Verdicts() []models.Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Verdict, len(s.verdicts))
	copy(out, s.verdicts)
	return out
}

func (s *Session) run() {
	// camera access was denied: report aborted without opening a socket
	if s.source == nil {
		s.resolve(OutcomeAborted, "camera unavailable")
		return
	}

	// the camera is released no matter which exit branch is taken
	defer func() {
		if err := s.source.Close(); err != nil {
			slog.Warn("failed to close frame source", "error", err)
		}
	}()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, _, err := dialer.Dial(s.cfg.URL, nil)
	if err != nil {
		slog.Warn("liveness socket dial failed", "url", s.cfg.URL, "error", err)
		s.resolve(OutcomeAborted, "could not reach verification service")
		return
	}
	defer conn.Close()

	s.state.Store(int32(StateStreaming))
	s.status("camera connected, hold still...")

	verdictCh := make(chan models.Verdict)
	readErrCh := make(chan error, 1)
	quitCh := make(chan struct{})
	defer close(quitCh)
	go readVerdicts(conn, verdictCh, readErrCh, quitCh)

	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.SessionTimeout)
	defer deadline.Stop()

	consecutiveLive := 0
	totalSpoof := 0

	for {
		select {
		case <-ticker.C:
			frame, err := s.source.NextFrame()
			if err != nil {
				slog.Warn("frame capture failed", "error", err)
				s.resolve(OutcomeAborted, "camera failure")
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				slog.Warn("frame send failed", "error", err)
				s.resolve(OutcomeAborted, "connection lost")
				return
			}

		case v := <-verdictCh:
			s.mu.Lock()
			s.verdicts = append(s.verdicts, v)
			s.mu.Unlock()
			if v.Status != "" {
				s.status(v.Status)
			}

			switch v.Label {
			case models.VerdictLive:
				if v.Confidence >= s.cfg.MinLiveConfidence {
					consecutiveLive++
				} else {
					// a low-confidence live verdict is not qualifying
					// evidence and restarts the streak
					consecutiveLive = 0
				}
			case models.VerdictSpoof:
				consecutiveLive = 0
				totalSpoof++
			case models.VerdictUncertain:
				// uncertain frames neither advance nor reset the streak
			}

			if totalSpoof >= s.cfg.SpoofLimit {
				s.resolve(OutcomeRejected, "liveness check failed")
				return
			}
			if consecutiveLive >= s.cfg.ConsecutiveLive {
				s.resolve(OutcomeVerified, "liveness confirmed")
				return
			}

		case err := <-readErrCh:
			slog.Warn("liveness socket closed before resolution", "error", err)
			s.resolve(OutcomeAborted, "connection closed unexpectedly")
			return

		case <-deadline.C:
			s.resolve(OutcomeTimedOut, "verification timed out")
			return

		case <-s.cancelCh:
			s.resolve(OutcomeAborted, "cancelled")
			return
		}
	}
}

func readVerdicts(conn *websocket.Conn, verdictCh chan<- models.Verdict, errCh chan<- error, quitCh <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		var v models.Verdict
		if err := json.Unmarshal(data, &v); err != nil {
			errCh <- fmt.Errorf("malformed verdict message: %w", err)
			return
		}
		select {
		case verdictCh <- v:
		case <-quitCh:
			return
		}
	}
}

// resolve is terminal: it flips the state, records the result exactly once
// and signals Done. Later calls are ignored.
func (s *Session) resolve(outcome Outcome, reason string) {
	s.resolveOnce.Do(func() {
		s.state.Store(int32(StateResolving))
		slog.Info("liveness session resolved", "outcome", outcome, "reason", reason)
		s.status(reason)
		s.done <- Result{Outcome: outcome, Reason: reason}
		s.state.Store(int32(StateClosed))
	})
}

func (s *Session) status(msg string) {
	if s.cfg.StatusFunc != nil {
		s.cfg.StatusFunc(msg)
	}
}
