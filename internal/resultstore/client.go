// Package resultstore pushes finished alignments to a key-value HTTP
// service under alignments/{doc_id}.
package resultstore

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

	"github.com/avast/retry-go/v4"
)

const keyPrefix = "alignments/"

// Client communicates with the result store HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	attempts   uint
	delay      time.Duration
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets how often and how far apart transient failures are retried.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = max(attempts, 1)
		c.delay = delay
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger logs retried requests.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		attempts: 3,
		delay:    500 * time.Millisecond,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NodeRequest is the body for PUT /kv/{key}.
type NodeRequest struct {
	Value  any    `json:"value"`
	Source string `json:"source,omitempty"`
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

// Key returns the store key of a document's alignment.
func Key(docID string) string {
	return keyPrefix + url.PathEscape(docID)
}

// PutResult stores the alignment of docID, retrying 429 and 5xx answers.
func (c *Client) PutResult(ctx context.Context, docID string, value any) error {
	body, err := json.Marshal(NodeRequest{Value: value, Source: "tocalign"})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := Key(docID)

	return retry.Do(
		func() error { return c.put(ctx, key, body) },
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("result store put retry", "key", key, "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) put(ctx context.Context, key string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/kv/"+key, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, key, http.StatusOK, http.StatusCreated, http.StatusNoContent)
}

// GetResult fetches a stored alignment. It reports false when the store
// has none for docID.
func (c *Client) GetResult(ctx context.Context, docID string) (json.RawMessage, bool, error) {
	key := Key(docID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/kv/"+key, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err := checkStatus(resp, key, http.StatusOK); err != nil {
		return nil, false, err
	}

	var node struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return node.Value, true, nil
}

func checkStatus(resp *http.Response, key string, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	return fmt.Errorf("%s: status %d: %s", key, resp.StatusCode, string(respBody))
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
