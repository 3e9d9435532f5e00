// Package helius fetches enhanced transactions from the Helius API.
package helius

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
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/metrics"
)

// SourceName labels metrics recorded by this client.
const SourceName = "helius"

// DefaultBaseURL is the public Helius API endpoint.
const DefaultBaseURL = "https://api.helius.xyz"

// maxBatch is the most signatures the parse endpoint accepts per call.
const maxBatch = 100

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helius: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client calls the enhanced transactions API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger

	retryBase   time.Duration
	maxAttempts int
}

// NewClient creates a Helius client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, apiKey string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  httpClient,
		metrics:     m,
		logger:      logger,
		retryBase:   time.Second,
		maxAttempts: 3,
	}
}

// GetTransaction parses a single signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*classify.RawTransaction, error) {
	txns, err := c.GetTransactions(ctx, []string{signature})
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, chain.ErrTransactionNotFound
	}
	return txns[0], nil
}

// GetTransactions parses signatures in batches, preserving input order.
func (c *Client) GetTransactions(ctx context.Context, signatures []string) ([]*classify.RawTransaction, error) {
	out := make([]*classify.RawTransaction, 0, len(signatures))
	for start := 0; start < len(signatures); start += maxBatch {
		end := min(start+maxBatch, len(signatures))

		body, err := json.Marshal(map[string][]string{"transactions": signatures[start:end]})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		var batch []*classify.RawTransaction
		if err := c.do(ctx, "parseTransactions", http.MethodPost, "/v0/transactions", nil, body, &batch); err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// ListTransactions returns an address's parsed history, newest first.
func (c *Client) ListTransactions(ctx context.Context, address string, opts chain.ListOptions) ([]*classify.RawTransaction, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(min(opts.EffectiveLimit(), maxBatch)))
	if opts.Before != "" {
		q.Set("before", opts.Before)
	}
	if opts.Until != "" {
		q.Set("until", opts.Until)
	}

	var txns []*classify.RawTransaction
	path := "/v0/addresses/" + url.PathEscape(address) + "/transactions"
	if err := c.do(ctx, "addressTransactions", http.MethodGet, path, q, nil, &txns); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall(SourceName, len(txns))
	}
	c.logger.DebugContext(ctx, "fetched address transactions",
		"address", address,
		"count", len(txns),
		"before", opts.Before,
	)
	return txns, nil
}

// do sends the request, retrying rate limits and server errors with backoff.
func (c *Client) do(ctx context.Context, method, httpMethod, path string, query url.Values, body []byte, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-key", c.apiKey)
	u := c.baseURL + path + "?" + query.Encode()

	var lastErr error
	for attempt := range c.maxAttempts {
		start := time.Now()
		err := c.once(ctx, httpMethod, u, body, out)
		c.recordCall(method, start, err)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.retryable() {
			return err
		}
		if attempt == c.maxAttempts-1 {
			break
		}

		backoff := c.retryBase * time.Duration(1<<uint(attempt))
		reason := "server_error"
		if apiErr.StatusCode == http.StatusTooManyRequests {
			reason = "rate_limit"
			backoff *= 2
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(SourceName)
			}
		}
		if c.metrics != nil {
			c.metrics.RecordSourceRetry(SourceName, method, reason)
		}
		c.logger.WarnContext(ctx, "helius request failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"status", apiErr.StatusCode,
			"backoff_seconds", backoff.Seconds(),
		)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", method, c.maxAttempts, lastErr)
}

func (c *Client) once(ctx context.Context, httpMethod, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) recordCall(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordSourceCall(SourceName, method, status, time.Since(start).Seconds())
}

// parseErrorResponse reads {"error": "..."} bodies and falls back to the raw text.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
