// Package bitrix is a small client for the Bitrix24 REST API, reached
// through a portal inbound webhook. It covers the open-line bot methods
// and the CRM lookups the bot needs.
package bitrix

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

	"golang.org/x/time/rate"
)

const maxResponseBytes = 1 << 20

// Config holds the connection settings of a portal.
type Config struct {
	// WebhookURL is the inbound webhook base, e.g. https://x.bitrix24.com/rest/1/token.
	WebhookURL string
	// PortalURL is used to build CRM links. Defaults to the webhook's origin.
	PortalURL string
	// RatePerSec caps outgoing calls; Bitrix24 throttles above ~2/s.
	RatePerSec   float64
	Timeout      time.Duration
	AllowPrivate bool
}

// Client calls Bitrix24 REST methods.
type Client struct {
	base       *url.URL
	portal     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := parseWebhookURL(cfg.WebhookURL, cfg.AllowPrivate)
	if err != nil {
		return nil, err
	}

	portal := strings.TrimRight(cfg.PortalURL, "/")
	if portal == "" {
		portal = base.Scheme + "://" + base.Host
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
		burst = max(1, int(cfg.RatePerSec))
	}

	return &Client{
		base:   base,
		portal: portal,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     60 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// envelope is the common shape of every REST response.
type envelope struct {
	Result           json.RawMessage `json:"result"`
	Next             int             `json:"next"`
	Total            int             `json:"total"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// call invokes method with params as a JSON body and decodes the result
// into dest when dest is non-nil. It returns the pagination cursor.
func (c *Client) call(ctx context.Context, method string, params any, dest any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("bitrix %s: %w", method, err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("bitrix %s: marshal params: %w", method, err)
	}

	endpoint := c.base.JoinPath(method + ".json")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("bitrix %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("bitrix %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("bitrix %s: read response: %w", method, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if decodeErr == nil && env.Error != "" {
		return 0, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        env.Error,
			Description: env.ErrorDescription,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			Code:        http.StatusText(resp.StatusCode),
			Description: truncate(string(raw), 256),
		}
	}
	if decodeErr != nil {
		return 0, fmt.Errorf("bitrix %s: decode response: %w", method, decodeErr)
	}

	if dest != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, dest); err != nil {
			return 0, fmt.Errorf("bitrix %s: decode result: %w", method, err)
		}
	}

	slog.DebugContext(ctx, "bitrix call",
		slog.String("method", method),
		slog.Int("status", resp.StatusCode))
	return env.Next, nil
}

// APIError is an error reported by the Bitrix24 REST API.
type APIError struct {
	Method      string
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("bitrix %s: %s (HTTP %d)", e.Method, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("bitrix %s: %s: %s (HTTP %d)", e.Method, e.Code, e.Description, e.StatusCode)
}

// Retryable reports whether repeating the call can succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.Code == "QUERY_LIMIT_EXCEEDED"
}

// IsAPIError reports whether err carries an APIError with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
