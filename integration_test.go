package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

func registerPayload(phone string) models.RegisterRequest {
	return models.RegisterRequest{
		FullName:         "Asha Rao",
		Email:            "asha@example.com",
		PhoneNumber:      phone,
		BankAccountNo:    "1234567890",
		IfscCode:         "HDFC0000123",
		BranchName:       "MG Road",
		SubscriptionPlan: "Gold",
		TenureYears:      3,
		ImageBase64:      "ZmFrZS1mYWNl",
	}
}

func TestRegistrationFlow(t *testing.T) {
	state := newTestState(t)
	sms := state.sms.(*fakeSms)
	startTestServer(t, state)

	// bare 10-digit number, normalized to +91 by the server
	resp, body, _ := postJSON[models.OtpSentResponse](t, testBaseURL+"/api/auth/send-otp", "", models.PhoneRequest{PhoneNumber: "9876543210"})
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "+919876543210", sms.last(t).Phone)

	code := sms.lastCode(t)
	resp, body, verified := postJSON[models.OtpVerifiedResponse](t, testBaseURL+"/api/auth/verify-otp", "", models.OtpVerifyRequest{PhoneNumber: "9876543210", Otp: code})
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, verified.Verified)

	resp, body, user := postJSON[models.User](t, testBaseURL+"/api/register", "", registerPayload("9876543210"))
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, models.StatusPendingApproval, user.Status)
	require.Equal(t, "+919876543210", user.PhoneNumber)
	require.NotEmpty(t, user.Locker.LockerNumber)
	require.False(t, user.Locker.IsActive)

	// the face image and hashes never appear in the response
	require.NotContains(t, string(body), "face_image")
	require.NotContains(t, string(body), "password_hash")
}

func TestRegisterRejectsUnverifiedPhone(t *testing.T) {
	state := newTestState(t)
	startTestServer(t, state)

	resp, body, errResp := postJSON[models.ErrorResponse](t, testBaseURL+"/api/register", "", registerPayload("9876543210"))
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Equal(t, "phone number is not verified", errResp.Detail)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	state := newTestState(t)
	startTestServer(t, state)

	require.NoError(t, state.otps.MarkVerified("+919876543210"))
	resp, body, _ := postJSON[models.User](t, testBaseURL+"/api/register", "", registerPayload("9876543210"))
	mustStatus(t, resp, http.StatusOK, body)

	require.NoError(t, state.otps.MarkVerified("+919876543210"))
	resp, body, errResp := postJSON[models.ErrorResponse](t, testBaseURL+"/api/register", "", registerPayload("9876543210"))
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Equal(t, "Email already registered", errResp.Detail)
}

func TestVerifiedMarkerIsSingleUse(t *testing.T) {
	state := newTestState(t)
	startTestServer(t, state)

	require.NoError(t, state.otps.MarkVerified("+919876543210"))
	resp, body, _ := postJSON[models.User](t, testBaseURL+"/api/register", "", registerPayload("9876543210"))
	mustStatus(t, resp, http.StatusOK, body)

	verified, err := state.otps.IsVerified("+919876543210")
	require.NoError(t, err)
	require.False(t, verified)
}

func TestSendOtpRejectsMalformedNumber(t *testing.T) {
	state := newTestState(t)
	startTestServer(t, state)

	for _, phone := range []string{"", "12345", "+15551234567", "98765abc10"} {
		resp, body, _ := postJSON[models.ErrorResponse](t, testBaseURL+"/api/auth/send-otp", "", models.PhoneRequest{PhoneNumber: phone})
		mustStatus(t, resp, http.StatusBadRequest, body)
	}
}

func TestOtpCodeIsConsumedOnSuccess(t *testing.T) {
	state := newTestState(t)
	sms := state.sms.(*fakeSms)
	startTestServer(t, state)

	resp, body, _ := postJSON[models.OtpSentResponse](t, testBaseURL+"/api/auth/send-otp", "", models.PhoneRequest{PhoneNumber: "9876543210"})
	mustStatus(t, resp, http.StatusOK, body)
	code := sms.lastCode(t)

	req := models.OtpVerifyRequest{PhoneNumber: "9876543210", Otp: code}
	resp, body, _ = postJSON[models.OtpVerifiedResponse](t, testBaseURL+"/api/auth/verify-otp", "", req)
	mustStatus(t, resp, http.StatusOK, body)

	resp, body, _ = postJSON[models.ErrorResponse](t, testBaseURL+"/api/auth/verify-otp", "", req)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

// login ------------

func TestLoginWrongPassword(t *testing.T) {
	state := newTestState(t)
	seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	startTestServer(t, state)

	resp, body, errResp := postForm(t, "/api/login", "user@example.com", "wrong")
	mustStatus(t, resp, http.StatusUnauthorized, body)
	var detail models.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &detail))
	require.Equal(t, "Incorrect email or password", detail.Detail)
	require.Empty(t, errResp.AccessToken)
}

func TestLoginBeforeActivationFails(t *testing.T) {
	state := newTestState(t)
	// pending users have no password yet
	seedUser(t, state, "user@example.com", "+919876543210", "", models.StatusPendingApproval)
	startTestServer(t, state)

	resp, body, _ := postForm(t, "/api/login", "user@example.com", "anything")
	mustStatus(t, resp, http.StatusUnauthorized, body)
}

func TestAdminLoginRejectsRegularUser(t *testing.T) {
	state := newTestState(t)
	seedAdmin(t, state)
	seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	startTestServer(t, state)

	resp, body, _ := postForm(t, "/api/admin/login", "user@example.com", "secret")
	mustStatus(t, resp, http.StatusUnauthorized, body)
}

func TestUserTokenCannotCallAdminEndpoints(t *testing.T) {
	state := newTestState(t)
	seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	startTestServer(t, state)

	token := loginUser(t, "user@example.com", "secret")
	resp, body, _ := doJSON[[]models.User](t, http.MethodGet, testBaseURL+"/api/admin/pending-requests", token, nil)
	mustStatus(t, resp, http.StatusForbidden, body)
}

// locker ------------

func TestSetPinActivatesLocker(t *testing.T) {
	state := newTestState(t)
	user := seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	startTestServer(t, state)
	token := loginUser(t, "user@example.com", "secret")

	resp, body, _ := postJSON[models.ErrorResponse](t, testBaseURL+"/api/locker/set-pin", token, models.SetPinRequest{Pin: "12345"})
	mustStatus(t, resp, http.StatusUnprocessableEntity, body)

	resp, body, _ = postJSON[models.MessageResponse](t, testBaseURL+"/api/locker/set-pin", token, models.SetPinRequest{Pin: "123456"})
	mustStatus(t, resp, http.StatusOK, body)

	stored, err := state.users.GetById(user.Id)
	require.NoError(t, err)
	require.True(t, stored.Locker.PinSet)
	require.True(t, stored.Locker.IsActive)

	// first-time only
	resp, body, errResp := postJSON[models.ErrorResponse](t, testBaseURL+"/api/locker/set-pin", token, models.SetPinRequest{Pin: "654321"})
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Contains(t, errResp.Detail, "already been set")
}

func TestSetPinRequiresActiveAccount(t *testing.T) {
	state := newTestState(t)
	user := seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusPendingPayment)
	startTestServer(t, state)

	token, err := state.tokenIssuer.CreateToken(user.Id, RoleUser)
	require.NoError(t, err)

	resp, body, _ := postJSON[models.ErrorResponse](t, testBaseURL+"/api/locker/set-pin", token, models.SetPinRequest{Pin: "123456"})
	mustStatus(t, resp, http.StatusForbidden, body)
}

func TestUnlockChecksOtpThenPin(t *testing.T) {
	state := newTestState(t)
	user := seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	setUserPin(t, state, user, "123456")
	startTestServer(t, state)
	token := loginUser(t, "user@example.com", "secret")

	// no OTP stored yet
	resp, body, errResp := postJSON[models.ErrorResponse](t, testBaseURL+"/api/locker/unlock", token, models.UnlockRequest{Pin: "123456", Otp: "000000"})
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Equal(t, "Invalid or expired OTP.", errResp.Detail)

	// right OTP, wrong PIN
	require.NoError(t, state.otps.StoreCode(user.PhoneNumber, "424242"))
	resp, body, errResp = postJSON[models.ErrorResponse](t, testBaseURL+"/api/locker/unlock", token, models.UnlockRequest{Pin: "999999", Otp: "424242"})
	mustStatus(t, resp, http.StatusBadRequest, body)
	require.Equal(t, "Invalid locker PIN.", errResp.Detail)

	// both right
	require.NoError(t, state.otps.StoreCode(user.PhoneNumber, "424242"))
	resp, body, message := postJSON[models.MessageResponse](t, testBaseURL+"/api/locker/unlock", token, models.UnlockRequest{Pin: "123456", Otp: "424242"})
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, "Locker unlocked successfully.", message.Message)

	logs, err := state.users.ListAccessLogs(0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	// newest first
	require.Equal(t, "SUCCESS", logs[0].Status)
	require.Equal(t, "DENIED", logs[1].Status)
	require.Equal(t, "DENIED", logs[2].Status)
}

// admin ------------

func TestApproveMovesUserToPendingPayment(t *testing.T) {
	state := newTestState(t)
	sms := state.sms.(*fakeSms)
	seedAdmin(t, state)
	user := seedUser(t, state, "user@example.com", "+919876543210", "", models.StatusPendingApproval)
	startTestServer(t, state)
	token := loginAdmin(t)

	resp, body, pending := doJSON[[]models.User](t, http.MethodGet, testBaseURL+"/api/admin/pending-requests", token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Len(t, *pending, 1)

	resp, body, approved := doJSON[models.User](t, http.MethodPut, testBaseURL+"/api/admin/approve/"+user.Id, token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, models.StatusPendingPayment, approved.Status)
	require.Contains(t, sms.last(t).Message, "approved")

	// approving twice fails
	resp, body, _ = doJSON[models.ErrorResponse](t, http.MethodPut, testBaseURL+"/api/admin/approve/"+user.Id, token, nil)
	mustStatus(t, resp, http.StatusBadRequest, body)
}

func TestStatsCountUsers(t *testing.T) {
	state := newTestState(t)
	seedAdmin(t, state)
	seedUser(t, state, "a@example.com", "+911000000001", "", models.StatusPendingApproval)
	seedUser(t, state, "b@example.com", "+911000000002", "", models.StatusPendingApproval)
	seedUser(t, state, "c@example.com", "+911000000003", "pw", models.StatusActive)
	startTestServer(t, state)
	token := loginAdmin(t)

	resp, body, stats := doJSON[models.DashboardStats](t, http.MethodGet, testBaseURL+"/api/admin/stats", token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Equal(t, 2, stats.PendingCount)
	require.Equal(t, 2, stats.ActiveUsersCount) // admin is active too
	require.Equal(t, 4, stats.TotalUsersCount)
}

func TestAccessLogsPagination(t *testing.T) {
	state := newTestState(t)
	seedAdmin(t, state)
	user := seedUser(t, state, "user@example.com", "+919876543210", "", models.StatusActive)
	for i := 0; i < 5; i++ {
		recordAccess(state, user, "SUCCESS")
	}
	startTestServer(t, state)
	token := loginAdmin(t)

	resp, body, logs := doJSON[[]models.AccessLog](t, http.MethodGet, testBaseURL+"/api/admin/access-logs?skip=1&limit=2", token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Len(t, *logs, 2)
}

// payment webhook ------------

func paymentWebhookBody(t *testing.T, email string) ([]byte, string) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"email":%q}}}`, email))
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return body, hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhookActivatesUser(t *testing.T) {
	state := newTestState(t)
	sms := state.sms.(*fakeSms)
	user := seedUser(t, state, "user@example.com", "+919876543210", "", models.StatusPendingPayment)
	startTestServer(t, state)

	body, signature := paymentWebhookBody(t, user.Email)
	req, err := http.NewRequest(http.MethodPost, testBaseURL+"/api/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Payment-Signature", signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := state.users.GetById(user.Id)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, stored.Status)
	require.NotEmpty(t, stored.PasswordHash)

	// the temporary password from the SMS works for login
	tempPassword := sms.lastCode(t)
	loginUser(t, user.Email, tempPassword)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	state := newTestState(t)
	user := seedUser(t, state, "user@example.com", "+919876543210", "", models.StatusPendingPayment)
	startTestServer(t, state)

	body, _ := paymentWebhookBody(t, user.Email)
	req, err := http.NewRequest(http.MethodPost, testBaseURL+"/api/webhooks/payment", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Payment-Signature", "deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stored, err := state.users.GetById(user.Id)
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingPayment, stored.Status)
}

// nominees ------------

func TestNomineeLifecycle(t *testing.T) {
	state := newTestState(t)
	seedUser(t, state, "user@example.com", "+919876543210", "secret", models.StatusActive)
	startTestServer(t, state)
	token := loginUser(t, "user@example.com", "secret")

	resp, body, nominee := postJSON[models.Nominee](t, testBaseURL+"/api/user/nominees", token, models.NomineeCreateRequest{NomineeName: "Ravi Rao", UserRelationship: "brother"})
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, nominee.Id)

	resp, body, nominees := doJSON[[]models.Nominee](t, http.MethodGet, testBaseURL+"/api/user/nominees", token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Len(t, *nominees, 1)

	resp, body, _ = doJSON[models.MessageResponse](t, http.MethodDelete, testBaseURL+"/api/user/nominees/"+nominee.Id, token, nil)
	mustStatus(t, resp, http.StatusOK, body)

	resp, body, nominees = doJSON[[]models.Nominee](t, http.MethodGet, testBaseURL+"/api/user/nominees", token, nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.Empty(t, *nominees)

	resp, body, _ = doJSON[models.ErrorResponse](t, http.MethodDelete, testBaseURL+"/api/user/nominees/"+nominee.Id, token, nil)
	mustStatus(t, resp, http.StatusNotFound, body)
}
