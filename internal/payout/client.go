package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrOutcomeUnknown means the provider may or may not have issued the
// payout (timeout, dropped connection, 5xx). Callers must leave the
// withdrawal pending and retry with the same idempotency key.
var ErrOutcomeUnknown = errors.New("payout outcome unknown")

// ErrNotConfigured is returned when no provider URL is set.
var ErrNotConfigured = errors.New("payout provider not configured")

// Error is a definitive rejection from the provider.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("payout provider error (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type createPayoutRequest struct {
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

type createPayoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePayout sends amountMinor (cents) to a connected account and
// returns the provider's payout id. idempotencyKey makes retries safe.
func (c *Client) CreatePayout(ctx context.Context, connectedAccountID string, amountMinor int64, currency, idempotencyKey string) (string, error) {
	if c == nil || c.BaseURL == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(createPayoutRequest{
		Destination: connectedAccountID,
		Amount:      amountMinor,
		Currency:    strings.ToLower(currency),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create payout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Timeouts and dropped connections can happen after the provider
		// accepted the payout.
		return "", fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrOutcomeUnknown, err)
	}

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: provider status %d", ErrOutcomeUnknown, resp.StatusCode)
	}

	if resp.StatusCode >= 300 {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return "", &Error{
			StatusCode: resp.StatusCode,
			Code:       errResp.Error.Code,
			Message:    errResp.Error.Message,
		}
	}

	var out createPayoutResponse
	if err := json.Unmarshal(respBody, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("%w: malformed success response", ErrOutcomeUnknown)
	}
	return out.ID, nil
}
