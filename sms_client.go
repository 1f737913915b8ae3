package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SmsSender delivers OTP codes and notifications to a phone number.
type SmsSender interface {
	SendSms(phoneNumber string, message string) error
}

// HttpSmsClient posts messages to an SMS gateway.
type HttpSmsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHttpSmsClient(baseURL string, apiKey string) *HttpSmsClient {
	return &HttpSmsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HttpSmsClient) SendSms(phoneNumber string, message string) error {
	url := fmt.Sprintf("%s/api/send", c.baseURL)

	requestBody := map[string]string{
		"to":      phoneNumber,
		"message": message,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("failed to marshal sms request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute sms request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms gateway failed with status %d: %s", resp.StatusCode, string(body))
	}

	slog.Info("SMS delivered", "phone", phoneNumber)
	return nil
}

// LogSmsSender writes messages to the log instead of a gateway. Used in
// development setups without SMS credentials.
type LogSmsSender struct{}

func (LogSmsSender) SendSms(phoneNumber string, message string) error {
	slog.Info("SMS (log only)", "phone", phoneNumber, "message", message)
	return nil
}
