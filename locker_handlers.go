package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// handleSetPin lets an active user set their 6-digit locker PIN once.
// Setting the PIN activates the locker.
func handleSetPin(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	user, ok := authenticateActiveUser(state, w, r)
	if !ok {
		return
	}

	var request models.SetPinRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	if user.Locker != nil && user.Locker.PinSet {
		respondWithErr(w, http.StatusBadRequest, "PIN has already been set. Please use the reset PIN feature.", "repeated pin set", nil)
		return
	}
	if !isSixDigitCode(request.Pin) {
		respondWithErr(w, http.StatusUnprocessableEntity, "PIN must be a 6-digit number.", "malformed pin", nil)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Pin), bcrypt.DefaultCost)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to hash pin", err)
		return
	}

	user.PinHash = string(hash)
	if user.Locker != nil {
		user.Locker.PinSet = true
		user.Locker.IsActive = true
	}
	if err := state.users.UpdateUser(user); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_UPDATE, err)
		return
	}

	slog.Info("Locker PIN set", "user_id", user.Id)
	if err := writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Locker PIN set successfully."}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// handleUnlock is the final step of the locker access flow. The OTP was
// sent to the user after a successful face verification; it is checked
// before the PIN and every outcome is recorded in the access log.
func handleUnlock(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}
	user, ok := authenticateActiveUser(state, w, r)
	if !ok {
		return
	}

	var request models.UnlockRequest
	if err := decodeJSON(r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	otpValid, err := state.otps.VerifyCode(user.PhoneNumber, request.Otp)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_OTP_STORE, err)
		return
	}
	if !otpValid {
		recordAccess(state, user, "DENIED")
		respondWithErr(w, http.StatusBadRequest, "Invalid or expired OTP.", "unlock otp rejected", nil)
		return
	}

	if user.PinHash == "" || bcrypt.CompareHashAndPassword([]byte(user.PinHash), []byte(request.Pin)) != nil {
		recordAccess(state, user, "DENIED")
		respondWithErr(w, http.StatusBadRequest, "Invalid locker PIN.", "unlock pin rejected", nil)
		return
	}

	recordAccess(state, user, "SUCCESS")
	slog.Info("Locker unlocked", "user_id", user.Id)
	if err := writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Locker unlocked successfully."}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func recordAccess(state *ServerState, user *UserRecord, status string) {
	log := models.AccessLog{
		Id:         uuid.NewString(),
		UserId:     user.Id,
		UserEmail:  user.Email,
		AccessTime: time.Now().UTC(),
		Status:     status,
	}
	if err := state.users.AppendAccessLog(log); err != nil {
		slog.Error("failed to append access log", "user_id", user.Id, "error", err)
	}
}

func isSixDigitCode(s string) bool {
	return len(s) == 6 && isDigits(s)
}

// nominees ------------

func handleNominees(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	user, ok := authenticate(state, w, r, RoleUser)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		if err := writeJSON(w, http.StatusOK, user.Nominees); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}

	case http.MethodPost:
		var request models.NomineeCreateRequest
		if err := decodeJSON(r, &request); err != nil {
			respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
			return
		}
		if request.NomineeName == "" || request.UserRelationship == "" {
			respondWithErr(w, http.StatusBadRequest, "nominee name and relationship are required", "incomplete nominee", nil)
			return
		}

		nominee := models.Nominee{
			Id:               uuid.NewString(),
			NomineeName:      request.NomineeName,
			UserRelationship: request.UserRelationship,
		}
		user.Nominees = append(user.Nominees, nominee)
		if err := state.users.UpdateUser(user); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_UPDATE, err)
			return
		}

		slog.Info("Nominee added", "user_id", user.Id, "nominee_id", nominee.Id)
		if err := writeJSON(w, http.StatusOK, nominee); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
	}
}

func handleDeleteNominee(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	user, ok := authenticate(state, w, r, RoleUser)
	if !ok {
		return
	}

	nomineeId := mux.Vars(r)["id"]
	kept := user.Nominees[:0]
	found := false
	for _, nominee := range user.Nominees {
		if nominee.Id == nomineeId {
			found = true
			continue
		}
		kept = append(kept, nominee)
	}
	if !found {
		respondWithErr(w, http.StatusNotFound, "nominee not found", "unknown nominee id", nil)
		return
	}

	user.Nominees = kept
	if err := state.users.UpdateUser(user); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_USER_UPDATE, err)
		return
	}

	slog.Info("Nominee removed", "user_id", user.Id, "nominee_id", nomineeId)
	if err := writeJSON(w, http.StatusOK, models.MessageResponse{Message: "nominee removed"}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
