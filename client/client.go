// Package client is the Go SDK for the locker service REST API. It wraps
// every endpoint the browser application uses and keeps the bearer token
// in a pluggable TokenStore, read at send time so a logout takes effect
// immediately.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

// Sentinel errors for the three response classes. Returned errors wrap one
// of these plus the server's detail message; transport failures wrap
// neither and should be treated as retryable.
var (
	// ErrAuth covers 401 responses. The client drops the stored token
	// when it sees one, so the session must be re-established.
	ErrAuth = errors.New("authentication failed")
	// ErrValidation covers the remaining 4xx responses.
	ErrValidation = errors.New("request rejected")
	// ErrServer covers 5xx responses.
	ErrServer = errors.New("server error")
)

// APIError carries the status code and the detail string from an error
// response body.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore
}

func NewClient(baseURL string, tokens TokenStore) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Tokens exposes the underlying store, for sharing it with other clients.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// Logout drops the stored token.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// auth ------------

func (c *Client) Login(ctx context.Context, username, password string) (*models.TokenResponse, error) {
	return c.loginForm(ctx, "/api/login", username, password)
}

func (c *Client) AdminLogin(ctx context.Context, username, password string) (*models.TokenResponse, error) {
	return c.loginForm(ctx, "/api/admin/login", username, password)
}

func (c *Client) loginForm(ctx context.Context, path, username, password string) (*models.TokenResponse, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token models.TokenResponse
	if err := c.send(req, &token); err != nil {
		return nil, err
	}
	if err := c.tokens.SetToken(token.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return &token, nil
}

func (c *Client) SendOtp(ctx context.Context, phone string) error {
	return c.postJSON(ctx, "/api/auth/send-otp", models.PhoneRequest{PhoneNumber: phone}, nil)
}

func (c *Client) VerifyOtp(ctx context.Context, phone, otp string) (bool, error) {
	var response models.OtpVerifiedResponse
	err := c.postJSON(ctx, "/api/auth/verify-otp", models.OtpVerifyRequest{PhoneNumber: phone, Otp: otp}, &response)
	if err != nil {
		// a wrong or expired code is a negative answer, not a failure
		if errors.Is(err, ErrValidation) {
			return false, nil
		}
		return false, err
	}
	return response.Verified, nil
}

func (c *Client) Register(ctx context.Context, request models.RegisterRequest) (*models.User, error) {
	var user models.User
	if err := c.postJSON(ctx, "/api/register", request, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// locker ------------

func (c *Client) SetPin(ctx context.Context, pin string) error {
	return c.postJSON(ctx, "/api/locker/set-pin", models.SetPinRequest{Pin: pin}, nil)
}

func (c *Client) Unlock(ctx context.Context, pin, otp string) error {
	return c.postJSON(ctx, "/api/locker/unlock", models.UnlockRequest{Pin: pin, Otp: otp}, nil)
}

// admin ------------

func (c *Client) PendingRequests(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/pending-requests", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) Approve(ctx context.Context, userId string) (*models.User, error) {
	var user models.User
	if err := c.doJSON(ctx, http.MethodPut, "/api/admin/approve/"+url.PathEscape(userId), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Stats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) AccessLogs(ctx context.Context, skip, limit int) ([]models.AccessLog, error) {
	path := fmt.Sprintf("/api/admin/access-logs?skip=%d&limit=%d", skip, limit)
	var logs []models.AccessLog
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// nominees ------------

func (c *Client) Nominees(ctx context.Context) ([]models.Nominee, error) {
	var nominees []models.Nominee
	if err := c.doJSON(ctx, http.MethodGet, "/api/user/nominees", nil, &nominees); err != nil {
		return nil, err
	}
	return nominees, nil
}

func (c *Client) AddNominee(ctx context.Context, request models.NomineeCreateRequest) (*models.Nominee, error) {
	var nominee models.Nominee
	if err := c.postJSON(ctx, "/api/user/nominees", request, &nominee); err != nil {
		return nil, err
	}
	return &nominee, nil
}

func (c *Client) DeleteNominee(ctx context.Context, nomineeId string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/user/nominees/"+url.PathEscape(nomineeId), nil, nil)
}

// plumbing ------------

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send attaches the bearer token, executes the request and decodes the
// response, classifying error statuses.
func (c *Client) send(req *http.Request, out any) error {
	token, err := c.tokens.Token()
	if err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return c.classify(resp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

func (c *Client) classify(status int, body []byte) error {
	var detail models.ErrorResponse
	_ = json.Unmarshal(body, &detail)
	if detail.Detail == "" {
		detail.Detail = strings.TrimSpace(string(body))
	}
	apiErr := &APIError{StatusCode: status, Detail: detail.Detail}

	switch {
	case status == http.StatusUnauthorized:
		// the session is gone; drop the stale token
		if err := c.tokens.Clear(); err != nil {
			slog.Warn("failed to clear token after 401", "error", err)
		}
		return fmt.Errorf("%w: %s", ErrAuth, apiErr)
	case status >= 500:
		return fmt.Errorf("%w: %s", ErrServer, apiErr)
	default:
		return fmt.Errorf("%w: %s", ErrValidation, apiErr)
	}
}
