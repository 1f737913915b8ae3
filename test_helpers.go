package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/vision"
)

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8082,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

const testBaseURL = "http://localhost:8082"
const testAdminEmail = "admin@neurolock.test"
const testAdminPassword = "admin-secret"
const testWebhookSecret = "whsec-test"

// relaxed thresholds so JPEG round trips in tests stay deterministic
var testVisionConfig = vision.Config{
	SkinPctMin:     0.08,
	LaplacianMin:   5.0,
	MotionMin:      0.005,
	MinValidFrames: 3,
	PassConfidence: 70,
	MaxSide:        320,
}

type smsMessage struct {
	Phone   string
	Message string
}

type fakeSms struct {
	mu       sync.Mutex
	messages []smsMessage
	fail     bool
}

func (f *fakeSms) SendSms(phone string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("gateway unreachable")
	}
	f.messages = append(f.messages, smsMessage{Phone: phone, Message: message})
	return nil
}

func (f *fakeSms) last(t *testing.T) smsMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages, "no SMS was sent")
	return f.messages[len(f.messages)-1]
}

// lastCode extracts the code or password sent after the final ": ".
func (f *fakeSms) lastCode(t *testing.T) string {
	t.Helper()
	message := f.last(t).Message
	idx := strings.LastIndex(message, ": ")
	require.GreaterOrEqual(t, idx, 0, "message carries no code: %s", message)
	return message[idx+2:]
}

func (f *fakeSms) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeFaceClient struct {
	similarity float64
	err        error
}

func (f *fakeFaceClient) MatchFaces(image1, image2 string) (*FaceMatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &FaceMatchResponse{Similarity: f.similarity, Matched: f.similarity >= 0.75}, nil
}

func (f *fakeFaceClient) HealthCheck() error { return nil }

func newTestState(t *testing.T) *ServerState {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return &ServerState{
		tokenIssuer:          NewRsaTokenIssuerFromKey(key, "neurolock-test", time.Hour),
		users:                NewInMemoryUserStore(),
		otps:                 NewInMemoryOtpStore(),
		sms:                  &fakeSms{},
		visionConfig:         testVisionConfig,
		adminEmail:           testAdminEmail,
		paymentWebhookSecret: testWebhookSecret,
	}
}

func startTestServer(t *testing.T, state *ServerState) *Server {
	t.Helper()

	srv, err := NewServer(state, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

// seed helpers ------------

func seedAdmin(t *testing.T, state *ServerState) *UserRecord {
	t.Helper()
	return seedUser(t, state, testAdminEmail, "+911111111111", testAdminPassword, models.StatusActive)
}

func seedUser(t *testing.T, state *ServerState, email, phone, password string, status models.UserStatus) *UserRecord {
	t.Helper()

	rec := &UserRecord{
		User: models.User{
			Id:          uuid.NewString(),
			FullName:    "Test User",
			Email:       email,
			PhoneNumber: phone,
			Status:      status,
			Locker: &models.Locker{
				LockerNumber:     "A-1001",
				SubscriptionPlan: models.PlanGold,
				TenureYears:      2,
			},
			Nominees:  []models.Nominee{},
			CreatedAt: time.Now().UTC(),
		},
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		require.NoError(t, err)
		rec.PasswordHash = string(hash)
	}
	require.NoError(t, state.users.CreateUser(rec))
	return rec
}

func setUserPin(t *testing.T, state *ServerState, rec *UserRecord, pin string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	rec.PinHash = string(hash)
	rec.Locker.PinSet = true
	rec.Locker.IsActive = true
	require.NoError(t, state.users.UpdateUser(rec))
}

// request helpers ------------

func postJSON[T any](t *testing.T, url string, token string, payload any) (*http.Response, []byte, *T) {
	t.Helper()
	return doJSON[T](t, http.MethodPost, url, token, payload)
}

func doJSON[T any](t *testing.T, method, url, token string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func postForm(t *testing.T, path, username, password string) (*http.Response, []byte, *models.TokenResponse) {
	t.Helper()

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := http.Post(testBaseURL+path, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	var token models.TokenResponse
	_ = json.Unmarshal(respBody, &token)
	return resp, respBody, &token
}

// loginUser logs in and returns the bearer token.
func loginUser(t *testing.T, email, password string) string {
	t.Helper()
	resp, body, token := postForm(t, "/api/login", email, password)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, token.AccessToken)
	return token.AccessToken
}

func loginAdmin(t *testing.T) string {
	t.Helper()
	resp, body, token := postForm(t, "/api/admin/login", testAdminEmail, testAdminPassword)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, token.AccessToken)
	return token.AccessToken
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}
