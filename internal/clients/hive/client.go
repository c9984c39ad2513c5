// Package hive provides a client for the trading server's pull endpoints
package hive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/hive/internal/common"
	"github.com/bobmcallan/hive/internal/models"
)

const (
	DefaultBaseURL   = "http://localhost:8000"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client implements the HiveClient interface
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new pull client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents a failed pull. Application is true when the server
// answered with a {status: "error"} envelope rather than an HTTP failure.
type APIError struct {
	StatusCode  int
	Message     string
	Endpoint    string
	Application bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hive API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// IsApplicationError reports whether err carries a server-declared error status.
func IsApplicationError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Application
}

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// get performs a rate-limited GET request, checks the status envelope and
// returns the body's fields for payload extraction.
func (c *Client) get(ctx context.Context, path string, params url.Values) (map[string]json.RawMessage, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("url", reqURL).Msg("Hive API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		msg := env.Message
		if msg == "" {
			msg = env.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %q", env.Status)
		}
		return nil, nil, &APIError{
			StatusCode:  resp.StatusCode,
			Message:     msg,
			Endpoint:    path,
			Application: true,
		}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return fields, body, nil
}

// payload returns the first present field among keys, or the whole body.
func payload(fields map[string]json.RawMessage, body []byte, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v, ok := fields[k]; ok && len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return body
}

// GetBotStatus retrieves the trading bot status
func (c *Client) GetBotStatus(ctx context.Context) (*models.BotStatus, error) {
	fields, body, err := c.get(ctx, "/api/trading-bot/status", nil)
	if err != nil {
		return nil, err
	}
	st, err := models.DecodeBotStatus(payload(fields, body, "data", "bot_status"), c.now())
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetSignals retrieves the most recent signals, newest first
func (c *Client) GetSignals(ctx context.Context, limit int) ([]models.Signal, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	fields, body, err := c.get(ctx, "/api/signals", params)
	if err != nil {
		return nil, err
	}

	raw := payload(fields, body, "signals", "data")
	signals, skipped, err := models.DecodeSignals(raw, c.now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger.Warn().Int("skipped", skipped).Msg("Hive API: dropped invalid signals")
	}
	return signals, nil
}

// GetTradingStats retrieves aggregate trading statistics
func (c *Client) GetTradingStats(ctx context.Context) (*models.TradingStats, error) {
	fields, body, err := c.get(ctx, "/api/trading-stats", nil)
	if err != nil {
		return nil, err
	}
	stats, err := models.DecodeTradingStats(payload(fields, body, "stats", "data"), c.now())
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetSimulationWallet retrieves the simulation wallet snapshot
func (c *Client) GetSimulationWallet(ctx context.Context) (*models.WalletSnapshot, error) {
	fields, body, err := c.get(ctx, "/api/simulations-wallet", nil)
	if err != nil {
		return nil, err
	}
	return c.decodeWallet(fields, body)
}

// GetWallet retrieves a wallet snapshot by id
func (c *Client) GetWallet(ctx context.Context, id string) (*models.WalletSnapshot, error) {
	fields, body, err := c.get(ctx, "/api/wallets/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return c.decodeWallet(fields, body)
}

// GetWalletHoldings retrieves only the holdings of a wallet
func (c *Client) GetWalletHoldings(ctx context.Context, id string) ([]models.Holding, error) {
	fields, body, err := c.get(ctx, "/api/wallets/"+url.PathEscape(id)+"/holdings", nil)
	if err != nil {
		return nil, err
	}
	return models.DecodeHoldings(payload(fields, body, "holdings", "data"))
}

func (c *Client) decodeWallet(fields map[string]json.RawMessage, body []byte) (*models.WalletSnapshot, error) {
	snap, err := models.DecodeWalletSnapshot(payload(fields, body, "wallet", "data"), c.now())
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
