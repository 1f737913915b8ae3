// Package workflow sequences the multi-stage identity verification flows:
// phone OTP verification, biometric liveness capture and the final
// registration or locker unlock submission. The state machines never leak
// errors past their boundary; every failed transition leaves the workflow
// in a recoverable phase with a user-facing message, except fatal
// submission errors which are terminal.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// Phase is a named step in the verification sequence.
type Phase string

const (
	PhasePhoneEntry  Phase = "phone_entry"
	PhaseOtpPending  Phase = "otp_pending"
	PhaseOtpVerified Phase = "otp_verified"
	PhaseBiometric   Phase = "biometric"
	PhaseChallenge   Phase = "challenge"
	PhaseReview      Phase = "review"
	PhaseSuccess     Phase = "success"
	PhaseFailure     Phase = "failure"
)

// ErrTransient marks API failures that are worth retrying (network
// hiccups, 5xx). Submission errors not wrapping it are treated as fatal.
var ErrTransient = errors.New("transient failure")

// AuthAPI is the slice of the REST surface the registration flow needs.
type AuthAPI interface {
	SendOtp(ctx context.Context, phone string) error
	VerifyOtp(ctx context.Context, phone, otp string) (bool, error)
	Register(ctx context.Context, req models.RegisterRequest) error
}

// LockerAPI is the slice of the REST surface the locker-access flow needs.
type LockerAPI interface {
	Unlock(ctx context.Context, pin, otp string) error
}

// Registration drives the sign-up flow:
// PhoneEntry -> OtpPending -> OtpVerified -> Biometric -> Review -> terminal.
type Registration struct {
	mu sync.Mutex

	phase   Phase
	fields  models.RegisterRequest
	message string

	otpSent       bool
	verifiedPhone string
	otpFailures   int

	biometricAttempts int
	maxAttempts       int
	failureReason     string

	// inSession is set while a liveness session runs outside the lock,
	// so the camera and socket are only ever held once.
	inSession bool

	auth   AuthAPI
	runner LivenessRunner
}

// MaxBiometricAttempts bounds liveness retries within one registration.
// Exceeding it is terminal.
const MaxBiometricAttempts = 3

func NewRegistration(auth AuthAPI, runner LivenessRunner) *Registration {
	return &Registration{
		phase:       PhasePhoneEntry,
		auth:        auth,
		runner:      runner,
		maxAttempts: MaxBiometricAttempts,
	}
}

func (r *Registration) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Message returns the last user-facing status or error message.
func (r *Registration) Message() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message
}

// FailureReason is set when the workflow ends in the failure phase.
func (r *Registration) FailureReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureReason
}

// OtpFailures counts rejected verification attempts, for display.
func (r *Registration) OtpFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.otpFailures
}

// Fields returns a copy of the collected form fields.
func (r *Registration) Fields() models.RegisterRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields
}

// SetDetails merges form fields into the workflow. Changing the phone
// number after it was verified drops the verification and returns the
// flow to phone entry.
func (r *Registration) SetDetails(fields models.RegisterRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	phoneChanged := fields.PhoneNumber != "" && fields.PhoneNumber != r.fields.PhoneNumber
	image := r.fields.ImageBase64
	r.fields = fields
	if fields.ImageBase64 == "" {
		r.fields.ImageBase64 = image
	}

	if phoneChanged && r.verifiedPhone != "" && r.verifiedPhone != fields.PhoneNumber {
		slog.Info("phone number changed after verification, forcing re-verification")
		r.verifiedPhone = ""
		r.otpSent = false
		r.phase = PhasePhoneEntry
		r.message = "phone number changed, please verify it again"
	}
}

// SendOtp requests an OTP for the collected phone number.
func (r *Registration) SendOtp(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhasePhoneEntry && r.phase != PhaseOtpPending {
		r.message = "OTP can only be requested before verification"
		return false
	}
	if r.fields.PhoneNumber == "" {
		r.message = "enter a phone number first"
		return false
	}

	if err := r.auth.SendOtp(ctx, r.fields.PhoneNumber); err != nil {
		slog.Warn("send otp failed", "error", err)
		r.message = "failed to send OTP, please check the number"
		return false
	}
	r.otpSent = true
	r.phase = PhaseOtpPending
	r.message = "OTP sent to your mobile number"
	return true
}

// VerifyOtp checks the entered code. Failures keep the flow in OtpPending
// with an incremented failure counter.
func (r *Registration) VerifyOtp(ctx context.Context, otp string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseOtpPending {
		r.message = "request an OTP first"
		return false
	}

	verified, err := r.auth.VerifyOtp(ctx, r.fields.PhoneNumber, otp)
	if err != nil || !verified {
		if err != nil {
			slog.Warn("verify otp failed", "error", err)
		}
		r.otpFailures++
		r.message = "invalid or expired OTP, please try again"
		return false
	}

	r.verifiedPhone = r.fields.PhoneNumber
	r.phase = PhaseOtpVerified
	r.message = "phone number verified successfully"
	return true
}

// CaptureBiometric runs one liveness session and advances the workflow on
// success. The guard requires the current phone number to be the verified
// one. Failed sessions may be retried up to MaxBiometricAttempts times.
func (r *Registration) CaptureBiometric(ctx context.Context, status func(string)) bool {
	r.mu.Lock()
	if r.inSession {
		r.message = "a liveness session is already running"
		r.mu.Unlock()
		return false
	}
	if r.phase != PhaseOtpVerified && r.phase != PhaseBiometric {
		r.message = "complete OTP verification first"
		r.mu.Unlock()
		return false
	}
	if r.verifiedPhone == "" || r.verifiedPhone != r.fields.PhoneNumber {
		r.message = "phone number is not verified"
		r.mu.Unlock()
		return false
	}
	r.phase = PhaseBiometric
	r.inSession = true
	runner := r.runner
	r.mu.Unlock()

	// the session runs without the lock held: it is slow and cancellable
	res, captured := runner.Run(ctx, status)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inSession = false
	if r.phase != PhaseBiometric {
		// the workflow moved on (e.g. cancelled) while the session ran
		return false
	}

	if res.Outcome == OutcomeVerified {
		r.fields.ImageBase64 = captured
		r.phase = PhaseReview
		r.message = "face verified, review your details"
		return true
	}

	r.biometricAttempts++
	slog.Info("biometric attempt failed",
		"outcome", res.Outcome, "attempt", r.biometricAttempts, "max", r.maxAttempts)
	if r.biometricAttempts >= r.maxAttempts {
		r.phase = PhaseFailure
		r.failureReason = res.Reason
		r.message = "face verification failed: " + res.Reason
		return false
	}
	r.message = res.Reason + ", please try again"
	return false
}

// Submit sends the completed registration. Transient failures keep the
// review phase open for a retry; anything else is terminal.
func (r *Registration) Submit(ctx context.Context) bool {
	r.mu.Lock()

	if r.phase != PhaseReview {
		r.message = "complete the earlier steps first"
		r.mu.Unlock()
		return false
	}
	// re-checked so a stale verification can never reach the network
	if r.verifiedPhone == "" || r.verifiedPhone != r.fields.PhoneNumber {
		r.message = "phone number is not verified"
		r.mu.Unlock()
		return false
	}
	if r.fields.ImageBase64 == "" {
		r.message = "face capture is missing"
		r.mu.Unlock()
		return false
	}
	req := r.fields
	r.mu.Unlock()

	err := r.auth.Register(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseReview {
		// the workflow moved on (e.g. cancelled) while the submit ran
		return false
	}
	if err != nil {
		if errors.Is(err, ErrTransient) {
			slog.Warn("registration submit failed, retryable", "error", err)
			r.message = "submission failed, please try again"
			return false
		}
		slog.Warn("registration submit failed, fatal", "error", err)
		r.phase = PhaseFailure
		r.failureReason = err.Error()
		r.message = "registration failed"
		return false
	}

	r.phase = PhaseSuccess
	r.message = "registration successful, your application is under review"
	return true
}

// Cancel tears the workflow down. Cancelling a finished workflow is a no-op.
func (r *Registration) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseSuccess || r.phase == PhaseFailure {
		return
	}
	r.phase = PhaseFailure
	r.failureReason = "cancelled"
	r.message = "registration cancelled"
}
