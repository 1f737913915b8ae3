package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/vision"
)

const ErrorInternal = "internal server error"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE_BODY = "failed to decode request body"
const ERR_USER_LOOKUP = "failed to look up user"
const ERR_USER_UPDATE = "failed to update user"
const ERR_OTP_STORE = "failed to access otp storage"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	tokenIssuer TokenIssuer
	users       UserStore
	otps        OtpStore
	sms         SmsSender
	faceClient  FaceMatchClient

	visionConfig vision.Config
	adminEmail   string

	// shared secret the payment provider signs webhook bodies with
	paymentWebhookSecret string
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/auth/send-otp", func(w http.ResponseWriter, r *http.Request) {
		handleSendOtp(state, w, r)
	})
	router.HandleFunc("/api/auth/verify-otp", func(w http.ResponseWriter, r *http.Request) {
		handleVerifyOtp(state, w, r)
	})
	router.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		handleRegister(state, w, r)
	})
	router.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		handleLogin(state, w, r)
	})
	router.HandleFunc("/api/admin/login", func(w http.ResponseWriter, r *http.Request) {
		handleAdminLogin(state, w, r)
	})

	router.HandleFunc("/api/locker/set-pin", func(w http.ResponseWriter, r *http.Request) {
		handleSetPin(state, w, r)
	})
	router.HandleFunc("/api/locker/unlock", func(w http.ResponseWriter, r *http.Request) {
		handleUnlock(state, w, r)
	})

	router.HandleFunc("/api/admin/pending-requests", func(w http.ResponseWriter, r *http.Request) {
		handlePendingRequests(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/approve/{user_id}", func(w http.ResponseWriter, r *http.Request) {
		handleApprove(state, w, r)
	}).Methods(http.MethodPut)
	router.HandleFunc("/api/admin/stats", func(w http.ResponseWriter, r *http.Request) {
		handleStats(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/admin/access-logs", func(w http.ResponseWriter, r *http.Request) {
		handleAccessLogs(state, w, r)
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/user/nominees", func(w http.ResponseWriter, r *http.Request) {
		handleNominees(state, w, r)
	}).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/api/user/nominees/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleDeleteNominee(state, w, r)
	}).Methods(http.MethodDelete)

	router.HandleFunc("/api/webhooks/payment", func(w http.ResponseWriter, r *http.Request) {
		handlePaymentWebhook(state, w, r)
	})

	router.HandleFunc("/ws/vision/{task}", func(w http.ResponseWriter, r *http.Request) {
		handleVisionSocket(state, w, r)
	})

	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

// helpers ------------

func respondWithErr(w http.ResponseWriter, code int, detail string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "detail", detail)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Detail: detail}); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("Failed to decode request body", "error", err)
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// auth ------------

// authenticate validates the bearer token and loads the user behind it.
// Writes the error response itself when it returns false.
func authenticate(state *ServerState, w http.ResponseWriter, r *http.Request, role string) (*UserRecord, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		respondWithErr(w, http.StatusUnauthorized, "not authenticated", "missing bearer token", nil)
		return nil, false
	}

	claims, err := state.tokenIssuer.ParseToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, "could not validate credentials", "token validation failed", err)
		return nil, false
	}
	if claims.Role != role {
		respondWithErr(w, http.StatusForbidden, "insufficient privileges", "role mismatch", fmt.Errorf("have %q, want %q", claims.Role, role))
		return nil, false
	}

	user, err := state.users.GetById(claims.Subject)
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, "could not validate credentials", ERR_USER_LOOKUP, err)
		return nil, false
	}
	return user, true
}

// authenticateActiveUser additionally requires the account to be active.
func authenticateActiveUser(state *ServerState, w http.ResponseWriter, r *http.Request) (*UserRecord, bool) {
	user, ok := authenticate(state, w, r, RoleUser)
	if !ok {
		return nil, false
	}
	if user.Status != models.StatusActive {
		respondWithErr(w, http.StatusForbidden, "account is not active", "inactive user rejected", fmt.Errorf("status: %s", user.Status))
		return nil, false
	}
	return user, true
}
