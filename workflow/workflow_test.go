package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// test doubles

type fakeAuth struct {
	sendOtpErr   error
	verifyResult bool
	verifyErr    error
	registerErr  error

	sendOtpCalls  int
	verifyCalls   int
	registerCalls int
	lastRegister  models.RegisterRequest
}

func (f *fakeAuth) SendOtp(_ context.Context, phone string) error {
	f.sendOtpCalls++
	return f.sendOtpErr
}

func (f *fakeAuth) VerifyOtp(_ context.Context, phone, otp string) (bool, error) {
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

func (f *fakeAuth) Register(_ context.Context, req models.RegisterRequest) error {
	f.registerCalls++
	f.lastRegister = req
	return f.registerErr
}

type scriptedRunner struct {
	results  []Result
	captured string
	calls    int
}

func (s *scriptedRunner) Run(_ context.Context, status func(string)) (Result, string) {
	res := s.results[s.calls%len(s.results)]
	s.calls++
	if res.Outcome == OutcomeVerified {
		return res, s.captured
	}
	return res, ""
}

func verifiedRunner() *scriptedRunner {
	return &scriptedRunner{
		results:  []Result{{Outcome: OutcomeVerified, Reason: "liveness confirmed"}},
		captured: "captured-face",
	}
}

func details() models.RegisterRequest {
	return models.RegisterRequest{
		FullName:         "Asha Rao",
		Email:            "asha@example.com",
		PhoneNumber:      "+919876543210",
		BankAccountNo:    "1234567890",
		IfscCode:         "HDFC0000123",
		BranchName:       "MG Road",
		SubscriptionPlan: "Gold",
		TenureYears:      3,
	}
}

func verifiedRegistration(t *testing.T, auth *fakeAuth, runner LivenessRunner) *Registration {
	t.Helper()
	auth.verifyResult = true
	r := NewRegistration(auth, runner)
	r.SetDetails(details())
	require.True(t, r.SendOtp(context.Background()))
	require.True(t, r.VerifyOtp(context.Background(), "123456"))
	return r
}

// registration flow

func TestRegistrationHappyPath(t *testing.T) {
	auth := &fakeAuth{verifyResult: true}
	r := NewRegistration(auth, verifiedRunner())
	require.Equal(t, PhasePhoneEntry, r.Phase())

	r.SetDetails(details())
	require.True(t, r.SendOtp(context.Background()))
	require.Equal(t, PhaseOtpPending, r.Phase())

	require.True(t, r.VerifyOtp(context.Background(), "123456"))
	require.Equal(t, PhaseOtpVerified, r.Phase())

	require.True(t, r.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseReview, r.Phase())
	require.Equal(t, "captured-face", r.Fields().ImageBase64)

	require.True(t, r.Submit(context.Background()))
	require.Equal(t, PhaseSuccess, r.Phase())
	require.Equal(t, "captured-face", auth.lastRegister.ImageBase64)
}

func TestSendOtpRequiresPhoneNumber(t *testing.T) {
	auth := &fakeAuth{}
	r := NewRegistration(auth, verifiedRunner())

	require.False(t, r.SendOtp(context.Background()))
	require.Zero(t, auth.sendOtpCalls)
	require.NotEmpty(t, r.Message())
}

func TestSendOtpFailureStaysInPhoneEntry(t *testing.T) {
	auth := &fakeAuth{sendOtpErr: errors.New("gateway down")}
	r := NewRegistration(auth, verifiedRunner())
	r.SetDetails(details())

	require.False(t, r.SendOtp(context.Background()))
	require.Equal(t, PhasePhoneEntry, r.Phase())
}

func TestVerifyOtpFailureIncrementsCounter(t *testing.T) {
	auth := &fakeAuth{verifyResult: false}
	r := NewRegistration(auth, verifiedRunner())
	r.SetDetails(details())
	require.True(t, r.SendOtp(context.Background()))

	require.False(t, r.VerifyOtp(context.Background(), "000000"))
	require.False(t, r.VerifyOtp(context.Background(), "111111"))
	require.Equal(t, PhaseOtpPending, r.Phase())
	require.Equal(t, 2, r.OtpFailures())
}

func TestBiometricGuardRequiresVerifiedOtp(t *testing.T) {
	auth := &fakeAuth{}
	runner := verifiedRunner()
	r := NewRegistration(auth, runner)
	r.SetDetails(details())

	require.False(t, r.CaptureBiometric(context.Background(), nil))
	require.Zero(t, runner.calls, "liveness session must not start without OTP verification")
}

func TestChangingPhoneInvalidatesVerification(t *testing.T) {
	auth := &fakeAuth{}
	runner := verifiedRunner()
	r := verifiedRegistration(t, auth, runner)

	changed := details()
	changed.PhoneNumber = "+919999999999"
	r.SetDetails(changed)

	require.Equal(t, PhasePhoneEntry, r.Phase())
	require.False(t, r.CaptureBiometric(context.Background(), nil))
	require.Zero(t, runner.calls)
}

func TestBiometricRetriesThenTerminalFailure(t *testing.T) {
	auth := &fakeAuth{}
	runner := &scriptedRunner{results: []Result{{Outcome: OutcomeRejected, Reason: "liveness check failed"}}}
	r := verifiedRegistration(t, auth, runner)

	for i := 1; i < MaxBiometricAttempts; i++ {
		require.False(t, r.CaptureBiometric(context.Background(), nil))
		require.Equal(t, PhaseBiometric, r.Phase(), "attempt %d should stay retryable", i)
	}

	require.False(t, r.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseFailure, r.Phase())
	require.Equal(t, "liveness check failed", r.FailureReason())
	require.Equal(t, MaxBiometricAttempts, runner.calls)
}

func TestBiometricTimeoutCountsAsAttempt(t *testing.T) {
	auth := &fakeAuth{}
	runner := &scriptedRunner{results: []Result{
		{Outcome: OutcomeTimedOut, Reason: "verification timed out"},
		{Outcome: OutcomeVerified, Reason: "liveness confirmed"},
	}, captured: "face"}
	r := verifiedRegistration(t, auth, runner)

	require.False(t, r.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseBiometric, r.Phase())

	require.True(t, r.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseReview, r.Phase())
}

func TestSubmitWithUnverifiedPhoneNeverReachesNetwork(t *testing.T) {
	auth := &fakeAuth{}
	r := NewRegistration(auth, verifiedRunner())
	r.SetDetails(details())

	require.False(t, r.Submit(context.Background()))
	require.Zero(t, auth.registerCalls, "guard must reject before any network call")
}

func TestSubmitTransientFailureKeepsReviewOpen(t *testing.T) {
	auth := &fakeAuth{registerErr: fmt.Errorf("post /register: %w", ErrTransient)}
	r := verifiedRegistration(t, auth, verifiedRunner())
	require.True(t, r.CaptureBiometric(context.Background(), nil))

	require.False(t, r.Submit(context.Background()))
	require.Equal(t, PhaseReview, r.Phase())

	auth.registerErr = nil
	require.True(t, r.Submit(context.Background()))
	require.Equal(t, PhaseSuccess, r.Phase())
}

func TestSubmitFatalFailureIsTerminal(t *testing.T) {
	auth := &fakeAuth{registerErr: errors.New("email already registered")}
	r := verifiedRegistration(t, auth, verifiedRunner())
	require.True(t, r.CaptureBiometric(context.Background(), nil))

	require.False(t, r.Submit(context.Background()))
	require.Equal(t, PhaseFailure, r.Phase())
	require.Equal(t, "email already registered", r.FailureReason())
}

func TestRegistrationCancel(t *testing.T) {
	auth := &fakeAuth{}
	r := verifiedRegistration(t, auth, verifiedRunner())

	r.Cancel()
	require.Equal(t, PhaseFailure, r.Phase())
	require.Equal(t, "cancelled", r.FailureReason())

	// cancel after a terminal phase keeps the original reason
	r.Cancel()
	require.Equal(t, "cancelled", r.FailureReason())
}

func TestCancelAfterSuccessIsNoop(t *testing.T) {
	auth := &fakeAuth{}
	r := verifiedRegistration(t, auth, verifiedRunner())
	require.True(t, r.CaptureBiometric(context.Background(), nil))
	require.True(t, r.Submit(context.Background()))

	r.Cancel()
	require.Equal(t, PhaseSuccess, r.Phase())
}

// locker access flow

type fakeLocker struct {
	unlockErr   error
	unlockCalls int
}

func (f *fakeLocker) Unlock(_ context.Context, pin, otp string) error {
	f.unlockCalls++
	return f.unlockErr
}

func TestLockerAccessHappyPath(t *testing.T) {
	locker := &fakeLocker{}
	l := NewLockerAccess(locker, verifiedRunner())
	require.Equal(t, PhaseBiometric, l.Phase())

	require.True(t, l.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseChallenge, l.Phase())

	require.True(t, l.SubmitPinOtp(context.Background(), "123456", "654321"))
	require.Equal(t, PhaseSuccess, l.Phase())
}

func TestLockerAccessBiometricFailureIsTerminal(t *testing.T) {
	locker := &fakeLocker{}
	runner := &scriptedRunner{results: []Result{{Outcome: OutcomeRejected, Reason: "user not recognized"}}}
	l := NewLockerAccess(locker, runner)

	require.False(t, l.CaptureBiometric(context.Background(), nil))
	require.Equal(t, PhaseFailure, l.Phase())
	require.Equal(t, "user not recognized", l.FailureReason())
}

func TestLockerChallengeValidatesFormatBeforeNetwork(t *testing.T) {
	locker := &fakeLocker{}
	l := NewLockerAccess(locker, verifiedRunner())
	require.True(t, l.CaptureBiometric(context.Background(), nil))

	require.False(t, l.SubmitPinOtp(context.Background(), "12345", "654321"))
	require.False(t, l.SubmitPinOtp(context.Background(), "123456", "abcdef"))
	require.Zero(t, locker.unlockCalls)
	require.Equal(t, PhaseChallenge, l.Phase())
}

func TestLockerChallengeAllowsUncappedReentry(t *testing.T) {
	locker := &fakeLocker{unlockErr: errors.New("invalid locker PIN")}
	l := NewLockerAccess(locker, verifiedRunner())
	require.True(t, l.CaptureBiometric(context.Background(), nil))

	for i := 0; i < 5; i++ {
		require.False(t, l.SubmitPinOtp(context.Background(), "123456", "654321"))
		require.Equal(t, PhaseChallenge, l.Phase())
	}
	require.Equal(t, 5, l.ChallengeFailures())

	locker.unlockErr = nil
	require.True(t, l.SubmitPinOtp(context.Background(), "123456", "654321"))
	require.Equal(t, PhaseSuccess, l.Phase())
}

func TestLockerChallengeUnreachableWithoutBiometric(t *testing.T) {
	locker := &fakeLocker{}
	l := NewLockerAccess(locker, verifiedRunner())

	require.False(t, l.SubmitPinOtp(context.Background(), "123456", "654321"))
	require.Zero(t, locker.unlockCalls)
}

func TestLockerCancel(t *testing.T) {
	locker := &fakeLocker{}
	l := NewLockerAccess(locker, verifiedRunner())

	l.Cancel()
	require.Equal(t, PhaseFailure, l.Phase())
	require.Equal(t, "cancelled", l.FailureReason())
}

func TestIsSixDigits(t *testing.T) {
	require.True(t, isSixDigits("000000"))
	require.False(t, isSixDigits("12345"))
	require.False(t, isSixDigits("1234567"))
	require.False(t, isSixDigits("12345a"))
}

// await-boundary races

// blockingAuth parks Register until released, so a test can act while the
// submission is in flight.
type blockingAuth struct {
	fakeAuth
	registerStarted chan struct{}
	registerRelease chan struct{}
}

func (b *blockingAuth) Register(ctx context.Context, req models.RegisterRequest) error {
	close(b.registerStarted)
	<-b.registerRelease
	return b.fakeAuth.Register(ctx, req)
}

// blockingRunner parks Run until released and records how many sessions
// were ever active at once.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}

	mu      sync.Mutex
	active  int
	peak    int
	result  Result
	capture string
}

func newBlockingRunner(result Result, capture string) *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  result,
		capture: capture,
	}
}

func (b *blockingRunner) Run(_ context.Context, _ func(string)) (Result, string) {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()

	b.started <- struct{}{}
	<-b.release

	b.mu.Lock()
	b.active--
	b.mu.Unlock()
	if b.result.Outcome == OutcomeVerified {
		return b.result, b.capture
	}
	return b.result, ""
}

func (b *blockingRunner) peakSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func TestCancelDuringSubmitStaysCancelled(t *testing.T) {
	auth := &blockingAuth{
		registerStarted: make(chan struct{}),
		registerRelease: make(chan struct{}),
	}
	auth.verifyResult = true
	r := NewRegistration(auth, verifiedRunner())
	r.SetDetails(details())
	require.True(t, r.SendOtp(context.Background()))
	require.True(t, r.VerifyOtp(context.Background(), "123456"))
	require.True(t, r.CaptureBiometric(context.Background(), nil))

	submitted := make(chan bool)
	go func() {
		submitted <- r.Submit(context.Background())
	}()

	<-auth.registerStarted
	r.Cancel()
	close(auth.registerRelease)

	require.False(t, <-submitted)
	require.Equal(t, PhaseFailure, r.Phase())
	require.Equal(t, "cancelled", r.FailureReason())
}

func TestConcurrentCapturesRunOneSession(t *testing.T) {
	auth := &fakeAuth{verifyResult: true}
	runner := newBlockingRunner(Result{Outcome: OutcomeVerified, Reason: "liveness confirmed"}, "captured-face")
	r := verifiedRegistration(t, auth, runner)

	first := make(chan bool)
	go func() {
		first <- r.CaptureBiometric(context.Background(), nil)
	}()
	<-runner.started

	// the camera is held by the in-flight session; a second entry is refused
	require.False(t, r.CaptureBiometric(context.Background(), nil))
	require.NotEmpty(t, r.Message())

	close(runner.release)
	require.True(t, <-first)
	require.Equal(t, PhaseReview, r.Phase())
	require.Equal(t, 1, runner.peakSessions())
}

func TestLockerConcurrentCapturesRunOneSession(t *testing.T) {
	locker := &fakeLocker{}
	runner := newBlockingRunner(Result{Outcome: OutcomeVerified, Reason: "face verified"}, "")
	l := NewLockerAccess(locker, runner)

	first := make(chan bool)
	go func() {
		first <- l.CaptureBiometric(context.Background(), nil)
	}()
	<-runner.started

	require.False(t, l.CaptureBiometric(context.Background(), nil))

	close(runner.release)
	require.True(t, <-first)
	require.Equal(t, PhaseChallenge, l.Phase())
	require.Equal(t, 1, runner.peakSessions())
}
