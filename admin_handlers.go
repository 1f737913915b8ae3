package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

func handlePendingRequests(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if _, ok := authenticate(state, w, r, RoleAdmin); !ok {
		return
	}

	pending, err := state.users.ListByStatus(models.StatusPendingApproval)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_LOOKUP, err)
		return
	}

	users := make([]models.User, 0, len(pending))
	for _, rec := range pending {
		users = append(users, rec.User)
	}
	if err := writeJSON(w, http.StatusOK, users); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// handleApprove moves a pending application to PENDING_PAYMENT and notifies
// the applicant by SMS.
func handleApprove(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if _, ok := authenticate(state, w, r, RoleAdmin); !ok {
		return
	}

	userId := mux.Vars(r)["user_id"]
	user, err := state.users.GetById(userId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, "User not found", ERR_USER_LOOKUP, err)
		return
	}
	if user.Status != models.StatusPendingApproval {
		detail := fmt.Sprintf("User is not pending approval. Current status: %s", user.Status)
		respondWithErr(w, http.StatusBadRequest, detail, "approve on wrong status", nil)
		return
	}

	user.Status = models.StatusPendingPayment
	if err := state.users.UpdateUser(user); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_UPDATE, err)
		return
	}

	message := fmt.Sprintf(
		"Your NeuroLock application has been approved! Please complete the payment for your %s locker plan to activate your account.",
		user.Locker.SubscriptionPlan)
	if err := state.sms.SendSms(user.PhoneNumber, message); err != nil {
		slog.Warn("failed to send approval sms", "user_id", user.Id, "error", err)
	}

	slog.Info("Application approved", "user_id", user.Id)
	if err := writeJSON(w, http.StatusOK, user.User); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleStats(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if _, ok := authenticate(state, w, r, RoleAdmin); !ok {
		return
	}

	pending, err := state.users.CountByStatus(models.StatusPendingApproval)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_LOOKUP, err)
		return
	}
	active, err := state.users.CountByStatus(models.StatusActive)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_LOOKUP, err)
		return
	}
	total, err := state.users.CountAll()
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_LOOKUP, err)
		return
	}

	stats := models.DashboardStats{
		PendingCount:     pending,
		ActiveUsersCount: active,
		TotalUsersCount:  total,
	}
	if err := writeJSON(w, http.StatusOK, stats); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleAccessLogs(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if _, ok := authenticate(state, w, r, RoleAdmin); !ok {
		return
	}

	skip := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)

	logs, err := state.users.ListAccessLogs(skip, limit)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to list access logs", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, logs); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// payment webhook ------------

type paymentWebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Email string `json:"email"`
		} `json:"payment"`
	} `json:"payload"`
}

// handlePaymentWebhook confirms a captured payment: the user becomes
// ACTIVE and receives a temporary password by SMS. The body must carry a
// valid HMAC signature from the payment provider.
func handlePaymentWebhook(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	signature := r.Header.Get("X-Payment-Signature")
	if signature == "" {
		respondWithErr(w, http.StatusBadRequest, "X-Payment-Signature header not found", "unsigned webhook", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to read webhook body", err)
		return
	}

	mac := hmac.New(sha256.New, []byte(state.paymentWebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		respondWithErr(w, http.StatusBadRequest, "signature verification failed", "webhook signature mismatch", nil)
		return
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	if payload.Event != "payment.captured" {
		slog.Debug("Ignoring webhook event", "event", payload.Event)
		if err := writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}

	user, err := state.users.GetByEmail(payload.Payload.Payment.Email)
	if err != nil {
		slog.Warn("webhook for unknown user", "email", payload.Payload.Payment.Email)
		if err := writeJSON(w, http.StatusOK, map[string]string{"status": "error", "detail": "User not found"}); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}

	tempPassword, err := generateTempPassword()
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate password", err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to hash password", err)
		return
	}

	user.Status = models.StatusActive
	user.PasswordHash = string(hash)
	if err := state.users.UpdateUser(user); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_UPDATE, err)
		return
	}

	message := "Payment successful! Your NeuroLock temporary password is: " + tempPassword
	if err := state.sms.SendSms(user.PhoneNumber, message); err != nil {
		slog.Warn("failed to send activation sms", "user_id", user.Id, "error", err)
	}

	slog.Info("User activated", "user_id", user.Id)
	if err := writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
