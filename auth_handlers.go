package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// normalizePhone brings a phone number into E.164 form. Bare 10-digit
// numbers get the +91 country code, matching the deployment region.
func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if len(phone) == 10 && isDigits(phone) {
		return "+91" + phone, nil
	}
	if strings.HasPrefix(phone, "+91") && len(phone) == 13 && isDigits(phone[3:]) {
		return phone, nil
	}
	return "", fmt.Errorf("invalid phone number format: %q", phone)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generateOtpCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateTempPassword() (string, error) {
	raw := make([]byte, 6)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func handleSendOtp(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.PhoneRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	phone, err := normalizePhone(request.PhoneNumber)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "Invalid phone number format.", "phone normalization failed", err)
		return
	}

	code, err := generateOtpCode()
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate otp code", err)
		return
	}
	if err := state.otps.StoreCode(phone, code); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_OTP_STORE, err)
		return
	}
	if err := state.sms.SendSms(phone, "Your NeuroLock verification code is: "+code); err != nil {
		respondWithErr(w, http.StatusInternalServerError, "Failed to send OTP.", "sms delivery failed", err)
		return
	}

	slog.Info("OTP sent", "phone", phone)
	if err := writeJSON(w, http.StatusOK, models.OtpSentResponse{Message: "OTP sent successfully"}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleVerifyOtp(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.OtpVerifyRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	phone, err := normalizePhone(request.PhoneNumber)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "Invalid phone number format.", "phone normalization failed", err)
		return
	}

	valid, err := state.otps.VerifyCode(phone, request.Otp)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_OTP_STORE, err)
		return
	}
	if !valid {
		respondWithErr(w, http.StatusBadRequest, "Invalid or expired OTP.", "otp verification failed", nil)
		return
	}
	if err := state.otps.MarkVerified(phone); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_OTP_STORE, err)
		return
	}

	slog.Info("OTP verified", "phone", phone)
	response := models.OtpVerifiedResponse{Message: "OTP verified successfully", Verified: true}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleRegister(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.RegisterRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	if request.FullName == "" || request.Email == "" || request.BankAccountNo == "" {
		respondWithErr(w, http.StatusBadRequest, "missing required fields", "incomplete registration", nil)
		return
	}
	if !models.ValidPlan(models.SubscriptionPlan(request.SubscriptionPlan)) {
		respondWithErr(w, http.StatusBadRequest, "invalid subscription plan", "unknown plan", fmt.Errorf("plan: %q", request.SubscriptionPlan))
		return
	}
	if request.ImageBase64 == "" {
		respondWithErr(w, http.StatusBadRequest, "face capture is required", "registration without face image", nil)
		return
	}

	phone, err := normalizePhone(request.PhoneNumber)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "Invalid phone number format.", "phone normalization failed", err)
		return
	}

	verified, err := state.otps.IsVerified(phone)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_OTP_STORE, err)
		return
	}
	if !verified {
		respondWithErr(w, http.StatusBadRequest, "phone number is not verified", "registration with unverified phone", nil)
		return
	}

	seq, err := state.users.NextLockerSeq()
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to assign locker number", err)
		return
	}

	record := &UserRecord{
		User: models.User{
			Id:          uuid.NewString(),
			FullName:    request.FullName,
			Email:       request.Email,
			PhoneNumber: phone,
			Status:      models.StatusPendingApproval,

			BankAccountNo: request.BankAccountNo,
			IfscCode:      request.IfscCode,
			BranchName:    request.BranchName,

			Locker: &models.Locker{
				LockerNumber:     fmt.Sprintf("A-%d", 1000+seq),
				SubscriptionPlan: models.SubscriptionPlan(request.SubscriptionPlan),
				TenureYears:      request.TenureYears,
				IsActive:         false,
			},
			Nominees:  []models.Nominee{},
			CreatedAt: time.Now().UTC(),
		},
		FaceImage: request.ImageBase64,
	}

	if err := state.users.CreateUser(record); err != nil {
		if err == ErrDuplicateUser {
			respondWithErr(w, http.StatusBadRequest, "Email already registered", "duplicate registration", err)
			return
		}
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to create user", err)
		return
	}

	// the marker is single-use
	if err := state.otps.ClearVerified(phone); err != nil {
		slog.Warn("failed to clear verified marker", "phone", phone, "error", err)
	}

	slog.Info("User registered", "user_id", record.Id, "locker", record.Locker.LockerNumber)
	if err := writeJSON(w, http.StatusOK, record.User); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// handleLogin authenticates a user from a form-encoded username/password
// pair and returns a bearer token.
func handleLogin(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	user, ok := authenticatePassword(state, w, r)
	if !ok {
		return
	}

	issueToken(state, w, user, RoleUser)
}

// handleAdminLogin is like handleLogin but only accepts the configured
// admin account and issues an admin-role token.
func handleAdminLogin(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	user, ok := authenticatePassword(state, w, r)
	if !ok {
		return
	}
	if user.Email != state.adminEmail {
		respondWithErr(w, http.StatusUnauthorized, "Incorrect admin credentials", "non-admin account on admin login", fmt.Errorf("email: %s", user.Email))
		return
	}

	issueToken(state, w, user, RoleAdmin)
}

func authenticatePassword(state *ServerState, w http.ResponseWriter, r *http.Request) (*UserRecord, bool) {
	if err := r.ParseForm(); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid form data", "form parse failed", err)
		return nil, false
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := state.users.GetByEmail(username)
	if err != nil || user.PasswordHash == "" {
		respondWithErr(w, http.StatusUnauthorized, "Incorrect email or password", "login for unknown or unactivated account", err)
		return nil, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		respondWithErr(w, http.StatusUnauthorized, "Incorrect email or password", "password mismatch", err)
		return nil, false
	}
	return user, true
}

func issueToken(state *ServerState, w http.ResponseWriter, user *UserRecord, role string) {
	token, err := state.tokenIssuer.CreateToken(user.Id, role)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to create token", err)
		return
	}

	slog.Info("Login successful", "user_id", user.Id, "role", role)
	response := models.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        &user.User,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
