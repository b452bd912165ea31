package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/models"
)

// HTTPRefresher exchanges refresh tokens against a remote /api/auth/refresh
// endpoint. It satisfies core.TokenRefresher.
type HTTPRefresher struct {
	url        string
	httpClient *http.Client
}

// NewHTTPRefresher creates a refresher posting to url. A nil client gets a 10s timeout.
func NewHTTPRefresher(url string, client *http.Client) *HTTPRefresher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRefresher{url: url, httpClient: client}
}

// Refresh posts {refreshToken} and returns the new access token. Failures
// carry the HTTP status so they classify like any other API error.
func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(models.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read refresh response: %w", err)
	}

	var env models.Envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || (decodeErr == nil && env.Code != models.CodeOK) {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = string(raw)
		}
		return "", core.NewReportedError(fmt.Sprintf("token refresh rejected: %s", msg), resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", decodeErr)
	}

	var out models.RefreshResponse
	if err := env.Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("refresh response carried no token")
	}
	return out.Token, nil
}
