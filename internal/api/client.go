// Package api is the JSON-over-HTTP client for the game backend
package api

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
	"time"

	"github.com/anhbaysgalan1/homegame/internal/config"
	"github.com/anhbaysgalan1/homegame/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransportError is returned when a backend request cannot be completed.
// StatusCode and Detail are set when the backend answered with an error;
// Err is set when it could not be reached at all.
type TransportError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Detail)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a backend 404
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusNotFound
}

// errorResponse is the backend's error body
type errorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.APIURL,
		token:   cfg.APIToken,
	}
}

func (c *Client) gameURL(gameID, suffix string) string {
	return fmt.Sprintf("%s/games/%s%s", c.baseURL, url.PathEscape(gameID), suffix)
}

// GetGame fetches the current snapshot of a game
func (c *Client) GetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	var gs models.GameSession
	if err := c.makeRequest(ctx, http.MethodGet, c.gameURL(gameID, ""), nil, &gs); err != nil {
		return nil, fmt.Errorf("failed to get game %s: %w", gameID, err)
	}
	return &gs, nil
}

// AddBuyIn records a buy-in for the authenticated player
func (c *Client) AddBuyIn(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	body := models.PlayerChange{Amount: amount, Time: models.NewTimestamp(at)}

	var gs models.GameSession
	if err := c.makeRequest(ctx, http.MethodPut, c.gameURL(gameID, "/buyin"), body, &gs); err != nil {
		return nil, fmt.Errorf("failed to add buy-in to game %s: %w", gameID, err)
	}
	return &gs, nil
}

// CashOut records a cash-out for the authenticated player
func (c *Client) CashOut(ctx context.Context, gameID string, amount decimal.Decimal, at time.Time) (*models.GameSession, error) {
	body := models.PlayerChange{Amount: amount, Time: models.NewTimestamp(at)}

	var gs models.GameSession
	if err := c.makeRequest(ctx, http.MethodPut, c.gameURL(gameID, "/cashout"), body, &gs); err != nil {
		return nil, fmt.Errorf("failed to cash out of game %s: %w", gameID, err)
	}
	return &gs, nil
}

// CompleteGame ends a game
func (c *Client) CompleteGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	var gs models.GameSession
	if err := c.makeRequest(ctx, http.MethodPost, c.gameURL(gameID, "/end"), nil, &gs); err != nil {
		return nil, fmt.Errorf("failed to complete game %s: %w", gameID, err)
	}
	return &gs, nil
}

// makeRequest is a helper method to make HTTP requests to the game backend
func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}, response interface{}) error {
	op := method + " " + endpoint

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	// Check for HTTP errors
	if resp.StatusCode >= 400 {
		detail := errorDetail(respBody)
		slog.Debug("Backend request failed", "method", method, "url", endpoint, "status", resp.StatusCode, "detail", detail)
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Detail: detail}
	}

	// Parse successful response
	if response != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, response); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// errorDetail extracts a message from an error body. The backend sends
// {"detail": "..."}; validation failures carry a list under detail.
func errorDetail(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return string(bytes.TrimSpace(body))
	}

	if len(errResp.Detail) > 0 {
		var s string
		if err := json.Unmarshal(errResp.Detail, &s); err == nil {
			return s
		}
		return string(errResp.Detail)
	}
	if errResp.Message != "" {
		return errResp.Message
	}
	return string(bytes.TrimSpace(body))
}
