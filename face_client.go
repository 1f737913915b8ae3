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

// FaceMatchResponse represents the result of a face matching operation
type FaceMatchResponse struct {
	Similarity float64 `json:"similarity"` // 0-1 similarity score
	Matched    bool    `json:"matched"`    // Whether faces match based on threshold
}

// FaceMatchClient defines the interface for face comparison operations
type FaceMatchClient interface {
	// MatchFaces compares two base64 encoded face images
	MatchFaces(image1, image2 string) (*FaceMatchResponse, error)

	// HealthCheck verifies the face matching service is available
	HealthCheck() error
}

// HttpFaceMatchClient implements FaceMatchClient against an HTTP service.
type HttpFaceMatchClient struct {
	baseURL    string
	threshold  float64
	httpClient *http.Client
}

func NewHttpFaceMatchClient(baseURL string, threshold float64) *HttpFaceMatchClient {
	if threshold <= 0 {
		threshold = 0.75
	}
	return &HttpFaceMatchClient{
		baseURL:   baseURL,
		threshold: threshold,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HttpFaceMatchClient) MatchFaces(image1, image2 string) (*FaceMatchResponse, error) {
	url := fmt.Sprintf("%s/api/match", c.baseURL)

	requestBody := map[string]string{
		"reference": image1,
		"candidate": image2,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal match request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute match request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face match failed with status %d: %s", resp.StatusCode, string(body))
	}

	var matchResponse struct {
		Similarity float64 `json:"similarity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&matchResponse); err != nil {
		return nil, fmt.Errorf("failed to decode match response: %w", err)
	}

	response := &FaceMatchResponse{
		Similarity: matchResponse.Similarity,
		Matched:    matchResponse.Similarity >= c.threshold,
	}

	slog.Info("Face match completed", "similarity", response.Similarity, "matched", response.Matched)
	return response, nil
}

func (c *HttpFaceMatchClient) HealthCheck() error {
	url := fmt.Sprintf("%s/api/healthz", c.baseURL)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	slog.Info("Face match service health check passed")
	return nil
}
