package rest

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

	"github.com/giantswarm/analytics-oauth/instrumentation"
	"github.com/giantswarm/analytics-oauth/storage"
)

const (
	backendName = "rest"

	// DefaultTimeout bounds every store round trip.
	DefaultTimeout = 10 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// ErrUnexpectedStatus is wrapped by errors for non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected status from key/value store")

// Config configures a Client.
type Config struct {
	// BaseURL is the store endpoint, e.g. "https://kv.example.com" (required)
	BaseURL string

	// Token is the bearer token sent with every request (required)
	Token string

	// Timeout overrides DefaultTimeout
	Timeout time.Duration

	// HTTPClient is the optional client used for requests
	HTTPClient *http.Client

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Client is a storage.Store speaking the REST key/value protocol.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	obs        *storage.Observer
}

var _ storage.Store = (*Client)(nil)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("store token is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// SetInstrumentation enables spans and metrics for every operation.
func (c *Client) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.obs = storage.NewObserver(backendName, inst)
}

type getResponse struct {
	Result json.RawMessage `json:"result"`
}

type setRequest struct {
	Value         string `json:"value"`
	ExpirationTTL int64  `json:"expiration_ttl,omitempty"`
}

// Get returns the value at key.
func (c *Client) Get(ctx context.Context, key string) (value string, err error) {
	ctx, done := c.obs.Start(ctx, "get")
	defer func() { done(err) }()

	body, err := c.do(ctx, http.MethodGet, "get", key, nil)
	if err != nil {
		return "", err
	}

	var resp getResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode store response: %w", err)
	}
	return decodeResult(resp.Result)
}

// decodeResult unwraps the result field. A JSON string is returned unquoted;
// any other JSON value is returned as its text.
func decodeResult(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", storage.ErrNotFound
	}
	if trimmed[0] != '"' {
		return string(trimmed), nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", fmt.Errorf("failed to decode store result: %w", err)
	}
	return s, nil
}

// Set stores value at key. A zero ttl stores it without expiry; otherwise the
// ttl is sent in whole seconds, rounded up.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	ctx, done := c.obs.Start(ctx, "set")
	defer func() { done(err) }()

	req := setRequest{Value: value}
	if ttl > 0 {
		req.ExpirationTTL = int64((ttl + time.Second - 1) / time.Second)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode store request: %w", err)
	}

	_, err = c.do(ctx, http.MethodPost, "set", key, payload)
	return err
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) (err error) {
	ctx, done := c.obs.Start(ctx, "delete")
	defer func() { done(err) }()

	_, err = c.do(ctx, http.MethodPost, "del", key, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, op, key string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + op + "/" + url.PathEscape(key)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build store request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store %s request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read store response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && op == "get" {
		return nil, storage.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Key/value store rejected request",
			"operation", op,
			"status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s %d", ErrUnexpectedStatus, op, resp.StatusCode)
	}
	return data, nil
}
