package models

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user,omitempty"`
}

type OtpSentResponse struct {
	Message string `json:"message"`
}

type OtpVerifiedResponse struct {
	Message  string `json:"message"`
	Verified bool   `json:"verified"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse mirrors the `detail` field the frontend reads on failures.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

type DashboardStats struct {
	PendingCount     int `json:"pending_count"`
	ActiveUsersCount int `json:"active_users_count"`
	TotalUsersCount  int `json:"total_users_count"`
}
