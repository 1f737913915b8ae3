package workflow

import (
	"context"
	"log/slog"
	"sync"
)

// LockerAccess drives the unlock flow: Biometric -> Challenge -> terminal.
// There is no phone OTP gate up front; the OTP for the challenge is issued
// by the server after a successful face verification. Challenge re-entry
// is deliberately uncapped: the user may retry PIN+OTP until the flow is
// cancelled or succeeds.
type LockerAccess struct {
	mu sync.Mutex

	phase             Phase
	message           string
	failureReason     string
	challengeFailures int

	// inSession is set while a liveness session runs outside the lock,
	// so the camera and socket are only ever held once.
	inSession bool

	locker LockerAPI
	runner LivenessRunner
}

func NewLockerAccess(locker LockerAPI, runner LivenessRunner) *LockerAccess {
	return &LockerAccess{
		phase:  PhaseBiometric,
		locker: locker,
		runner: runner,
	}
}

func (l *LockerAccess) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *LockerAccess) Message() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.message
}

func (l *LockerAccess) FailureReason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failureReason
}

// ChallengeFailures counts rejected PIN+OTP submissions, for display.
func (l *LockerAccess) ChallengeFailures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.challengeFailures
}

// CaptureBiometric runs the face verification session. Any non-verified
// outcome denies access and is terminal for this flow.
func (l *LockerAccess) CaptureBiometric(ctx context.Context, status func(string)) bool {
	l.mu.Lock()
	if l.inSession {
		l.message = "a liveness session is already running"
		l.mu.Unlock()
		return false
	}
	if l.phase != PhaseBiometric {
		l.message = "face verification is not pending"
		l.mu.Unlock()
		return false
	}
	l.inSession = true
	runner := l.runner
	l.mu.Unlock()

	res, _ := runner.Run(ctx, status)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.inSession = false
	if l.phase != PhaseBiometric {
		return false
	}

	if res.Outcome == OutcomeVerified {
		l.phase = PhaseChallenge
		l.message = "an OTP has been sent to your mobile, enter it with your PIN"
		return true
	}

	slog.Info("locker access denied at biometric step", "outcome", res.Outcome)
	l.phase = PhaseFailure
	l.failureReason = res.Reason
	l.message = "access denied: " + res.Reason
	return false
}

// SubmitPinOtp submits the PIN and OTP challenge. Failures keep the
// challenge open for re-entry.
func (l *LockerAccess) SubmitPinOtp(ctx context.Context, pin, otp string) bool {
	l.mu.Lock()

	if l.phase != PhaseChallenge {
		l.message = "complete face verification first"
		l.mu.Unlock()
		return false
	}
	if !isSixDigits(pin) {
		l.message = "PIN must be a 6-digit number"
		l.mu.Unlock()
		return false
	}
	if !isSixDigits(otp) {
		l.message = "OTP must be a 6-digit number"
		l.mu.Unlock()
		return false
	}
	locker := l.locker
	l.mu.Unlock()

	err := locker.Unlock(ctx, pin, otp)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != PhaseChallenge {
		return false
	}
	if err != nil {
		slog.Warn("unlock attempt rejected", "error", err)
		l.challengeFailures++
		l.message = "unlock failed, please check your PIN and OTP"
		return false
	}

	l.phase = PhaseSuccess
	l.message = "locker unlocked successfully"
	return true
}

// Cancel tears the workflow down. Cancelling a finished flow is a no-op.
func (l *LockerAccess) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == PhaseSuccess || l.phase == PhaseFailure {
		return
	}
	l.phase = PhaseFailure
	l.failureReason = "cancelled"
	l.message = "locker access cancelled"
}

func isSixDigits(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
