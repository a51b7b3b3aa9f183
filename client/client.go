// Package client is a thin SDK for the relay HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chainrelay/models"
)

// Config defines the HTTP client settings for the relay service.
type Config struct {
	BaseURL string
	// APIKey, when set, is sent as a bearer token on every request.
	APIKey  string
	Timeout time.Duration
}

// Client wraps the relay endpoints. Callers own any retry or polling loop;
// the SDK performs exactly one request per call.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a client with sane defaults.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("client: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateUser registers a user and returns its managed wallet address.
func (c *Client) CreateUser(ctx context.Context, userID string) (string, error) {
	var out struct {
		WalletAddress string `json:"walletAddress"`
	}
	payload := map[string]string{"userId": userID}
	if err := c.do(ctx, http.MethodPost, "/users", payload, http.StatusCreated, &out); err != nil {
		return "", err
	}
	return out.WalletAddress, nil
}

// Execute relays a transfer and returns the transaction hash.
func (c *Client) Execute(ctx context.Context, userID, to, amount string) (string, error) {
	var out struct {
		Hash string `json:"hash"`
	}
	payload := map[string]string{"userId": userID, "to": to, "amount": amount}
	if err := c.do(ctx, http.MethodPost, "/execute", payload, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Hash, nil
}

// TransactionStatus fetches the lifecycle status for a hash.
func (c *Client) TransactionStatus(ctx context.Context, hash string) (models.TxStatus, error) {
	var out struct {
		Status models.TxStatus `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/tx/"+hash, nil, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// APIError carries the status code and message of a non-success response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: relay returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, wantStatus int, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: call relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		message := http.StatusText(resp.StatusCode)
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
