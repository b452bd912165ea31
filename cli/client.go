package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/models"
	"cosmicwatch/service"
)

// Client is the HTTP client for talking to the cosmicwatch server
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new HTTP client. token, when set, is sent as a bearer
// access token on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-OK envelope returned by the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) StatusCode() int {
	return e.Status
}

// do executes a request and decodes the envelope payload into out.
func (c *Client) do(method, path string, query url.Values, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: string(raw)}
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Code != models.CodeOK {
		msg := env.Message
		var detail struct {
			Detail any `json:"detail"`
		}
		if env.Decode(&detail) == nil && detail.Detail != nil {
			msg = fmt.Sprintf("%s (%v)", msg, detail.Detail)
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg}
	}

	if out != nil {
		if err := env.Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// HealthCheck pings the health endpoint
func (c *Client) HealthCheck() (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

func (c *Client) Version() (map[string]string, error) {
	var out map[string]string
	err := c.do(http.MethodGet, "/api/version", nil, nil, &out)
	return out, err
}

// Runtime API

// RuntimeEvents is the payload of GET /api/runtime/events.
type RuntimeEvents struct {
	SessionID string         `json:"sessionId"`
	Total     int            `json:"total"`
	Events    []models.Event `json:"events"`
}

func (c *Client) RuntimeHealth() (*core.ApplicationHealth, error) {
	var out core.ApplicationHealth
	if err := c.do(http.MethodGet, "/api/runtime/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RuntimeComponentHealth(name string) (*core.ComponentHealth, error) {
	var out core.ComponentHealth
	if err := c.do(http.MethodGet, "/api/runtime/health/"+url.PathEscape(name), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RuntimeEvents(query url.Values) (*RuntimeEvents, error) {
	var out RuntimeEvents
	if err := c.do(http.MethodGet, "/api/runtime/events", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Corrections() ([]models.CorrectionRecord, error) {
	var out []models.CorrectionRecord
	err := c.do(http.MethodGet, "/api/runtime/corrections", nil, nil, &out)
	return out, err
}

func (c *Client) ClearCorrections() error {
	return c.do(http.MethodDelete, "/api/runtime/corrections", nil, nil, nil)
}

func (c *Client) CorrectionStats() (*models.CorrectionStats, error) {
	var out models.CorrectionStats
	if err := c.do(http.MethodGet, "/api/runtime/corrections/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Classify(message string, status int) (*service.ClassifyResult, error) {
	var out service.ClassifyResult
	body := map[string]any{"message": message, "status": status}
	if err := c.do(http.MethodPost, "/api/runtime/classify", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stored log API

func (c *Client) Logs(query url.Values) (*service.LogPage, error) {
	var out service.LogPage
	if err := c.do(http.MethodGet, "/api/monitoring/logs", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ComponentHealth(component string) ([]service.StoredComponentHealth, error) {
	query := url.Values{}
	if component != "" {
		query.Set("component", component)
	}
	var out []service.StoredComponentHealth
	err := c.do(http.MethodGet, "/api/monitoring/health/component", query, nil, &out)
	return out, err
}

func (c *Client) ApplicationHealth() (*service.StoredApplicationHealth, error) {
	var out service.StoredApplicationHealth
	if err := c.do(http.MethodGet, "/api/monitoring/health/application", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ErrorAnalytics() (*service.ErrorAnalytics, error) {
	var out service.ErrorAnalytics
	if err := c.do(http.MethodGet, "/api/monitoring/analytics/errors", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Performance(component string) ([]service.PerformanceStat, error) {
	query := url.Values{}
	if component != "" {
		query.Set("component", component)
	}
	var out []service.PerformanceStat
	err := c.do(http.MethodGet, "/api/monitoring/analytics/performance", query, nil, &out)
	return out, err
}

func (c *Client) Journey(sessionID string) (*service.Journey, error) {
	var out service.Journey
	if err := c.do(http.MethodGet, "/api/monitoring/journey/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup deletes stored logs older than daysOld; 0 uses the server default.
func (c *Client) Cleanup(daysOld int) (int64, error) {
	query := url.Values{}
	if daysOld > 0 {
		query.Set("daysOld", strconv.Itoa(daysOld))
	}
	var out struct {
		DeletedCount int64 `json:"deletedCount"`
	}
	err := c.do(http.MethodDelete, "/api/monitoring/cleanup", query, nil, &out)
	return out.DeletedCount, err
}

// Auth API

// Login exchanges a refresh token and uses the resulting access token from now on.
func (c *Client) Login(refreshToken string) (*models.RefreshResponse, error) {
	var out models.RefreshResponse
	if err := c.do(http.MethodPost, "/api/auth/refresh", nil, models.RefreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out, nil
}

func (c *Client) IssueRefreshToken(userID string) (string, time.Time, error) {
	var out struct {
		RefreshToken string    `json:"refreshToken"`
		ExpiresAt    time.Time `json:"expiresAt"`
	}
	err := c.do(http.MethodPost, "/api/auth/refresh-tokens", nil, models.IssueTokenRequest{UserID: userID}, &out)
	return out.RefreshToken, out.ExpiresAt, err
}

// System API

func (c *Client) Metrics() (map[string]any, error) {
	var out map[string]any
	err := c.do(http.MethodGet, "/api/metrics", nil, nil, &out)
	return out, err
}

func (c *Client) ShutdownCode() (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	err := c.do(http.MethodPost, "/api/system/shutdown-code", nil, nil, &out)
	return out.Code, err
}

func (c *Client) Shutdown(code string) error {
	return c.do(http.MethodPost, "/api/system/shutdown", nil, map[string]string{"code": code}, nil)
}
