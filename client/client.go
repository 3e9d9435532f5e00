package client

import (
	"bufio"
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

	"github.com/brojonat/xray/service/classify"
	natspkg "github.com/brojonat/xray/service/nats"
)

// WatchedAddress is an address the server polls for new transactions.
type WatchedAddress struct {
	Address       string        `json:"address"`
	PollInterval  time.Duration `json:"poll_interval"`
	Status        string        `json:"status"` // active, paused
	LastSignature *string       `json:"last_signature,omitempty"`
	LastPollTime  *time.Time    `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Options are the perspective parameters shared by the classification endpoints.
type Options struct {
	// Viewer is the address actions are expressed relative to. Empty classifies
	// from a neutral perspective.
	Viewer string
	// Group merges repeated movements of the same asset between the same parties.
	Group bool
}

func (o Options) query() url.Values {
	q := url.Values{}
	if o.Viewer != "" {
		q.Set("address", o.Viewer)
	}
	if o.Group {
		q.Set("group", "true")
	}
	return q
}

// Page is a page of live transactions for an address.
type Page struct {
	Address      string                 `json:"address"`
	Transactions []classify.Transaction `json:"transactions"`
	Count        int                    `json:"count"`
	NextBefore   string                 `json:"next_before,omitempty"`
}

// ListOptions pages through an address's live history.
type ListOptions struct {
	Before string
	Until  string
	Limit  int
	Group  bool
}

// History is a page of stored transactions for an address.
type History struct {
	Address      string                 `json:"address"`
	Transactions []classify.Transaction `json:"transactions"`
	Count        int                    `json:"count"`
	Total        int64                  `json:"total"`
	Limit        int                    `json:"limit"`
	Offset       int                    `json:"offset"`
}

// StatusError is returned when the server responds with an unexpected status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client is the HTTP client for the xray classification service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new xray service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Classify classifies one raw enhanced transaction on the server.
func (c *Client) Classify(ctx context.Context, raw json.RawMessage, opts Options) (*classify.Transaction, error) {
	var tx classify.Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/classify", opts.query(), raw, http.StatusOK, &tx); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction classified", "signature", tx.Signature, "type", tx.Type)
	return &tx, nil
}

// ClassifyBatch classifies a JSON array of raw enhanced transactions, keeping order.
func (c *Client) ClassifyBatch(ctx context.Context, raws []json.RawMessage, opts Options) ([]classify.Transaction, error) {
	body, err := json.Marshal(raws)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var txs []classify.Transaction
	if err := c.do(ctx, http.MethodPost, "/api/v1/classify", opts.query(), body, http.StatusOK, &txs); err != nil {
		return nil, err
	}
	c.logger.Debug("batch classified", "count", len(txs))
	return txs, nil
}

// GetTransaction fetches and classifies a transaction by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string, opts Options) (*classify.Transaction, error) {
	var tx classify.Transaction
	path := "/api/v1/transactions/" + url.PathEscape(signature)
	if err := c.do(ctx, http.MethodGet, path, opts.query(), nil, http.StatusOK, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListAddressTransactions fetches recent transactions of an address, classified
// from its perspective.
func (c *Client) ListAddressTransactions(ctx context.Context, address string, opts ListOptions) (*Page, error) {
	q := url.Values{}
	if opts.Before != "" {
		q.Set("before", opts.Before)
	}
	if opts.Until != "" {
		q.Set("until", opts.Until)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Group {
		q.Set("group", "true")
	}

	var page Page
	path := "/api/v1/addresses/" + url.PathEscape(address) + "/transactions"
	if err := c.do(ctx, http.MethodGet, path, q, nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// History lists stored transactions classified for an address, newest first.
func (c *Client) History(ctx context.Context, address string, limit, offset int) (*History, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var h History
	path := "/api/v1/addresses/" + url.PathEscape(address) + "/history"
	if err := c.do(ctx, http.MethodGet, path, q, nil, http.StatusOK, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Labels returns the address labels known to the server.
func (c *Client) Labels(ctx context.Context) (map[string]classify.ProgramInfo, error) {
	var resp struct {
		Labels map[string]classify.ProgramInfo `json:"labels"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/labels", nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Labels, nil
}

// Watch tells the server to start polling an address. A zero pollInterval uses
// the server default. Watching an already watched address updates its interval.
func (c *Client) Watch(ctx context.Context, address string, pollInterval time.Duration) (*WatchedAddress, error) {
	reqBody := map[string]interface{}{"address": address}
	if pollInterval > 0 {
		reqBody["poll_interval"] = pollInterval.String()
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp watchedResponse
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/watch", nil, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusCreated && httpResp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(httpResp)
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("address watched", "address", address, "poll_interval", resp.PollInterval)
	return responseToWatched(&resp)
}

// Unwatch tells the server to stop polling an address.
func (c *Client) Unwatch(ctx context.Context, address string) error {
	path := "/api/v1/watch/" + url.PathEscape(address)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, http.StatusNoContent, nil); err != nil {
		return err
	}
	c.logger.Debug("address unwatched", "address", address)
	return nil
}

// GetWatched retrieves the watch details for an address.
func (c *Client) GetWatched(ctx context.Context, address string) (*WatchedAddress, error) {
	var resp watchedResponse
	path := "/api/v1/watch/" + url.PathEscape(address)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return responseToWatched(&resp)
}

// ListWatched retrieves all watched addresses.
func (c *Client) ListWatched(ctx context.Context) ([]*WatchedAddress, error) {
	var response struct {
		Addresses []watchedResponse `json:"addresses"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watch", nil, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}

	watched := make([]*WatchedAddress, len(response.Addresses))
	for i := range response.Addresses {
		w, err := responseToWatched(&response.Addresses[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse watched address %s: %w", response.Addresses[i].Address, err)
		}
		watched[i] = w
	}
	return watched, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, http.StatusOK, nil)
}

// Stream subscribes to classified transactions over SSE and calls handler for each
// one until ctx is cancelled or the stream ends. An empty address streams every
// watched address.
func (c *Client) Stream(ctx context.Context, address string, handler func(*natspkg.TransactionEvent)) error {
	path := "/api/v1/stream"
	if address != "" {
		path += "/" + url.PathEscape(address)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client has a timeout; streams must not be cut off.
	streamClient := *c.httpClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "transaction" && data != "" {
				var txn natspkg.TransactionEvent
				if err := json.Unmarshal([]byte(data), &txn); err != nil {
					c.logger.Warn("failed to decode stream event", "error", err)
				} else {
					handler(&txn)
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends a request and decodes the JSON response into out when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, want int, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// watchedResponse is the API response format for a watched address.
// The server returns poll_interval as a string (e.g. "30s").
type watchedResponse struct {
	Address       string     `json:"address"`
	PollInterval  string     `json:"poll_interval"`
	Status        string     `json:"status"`
	LastSignature *string    `json:"last_signature,omitempty"`
	LastPollTime  *time.Time `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// responseToWatched converts an API response to a WatchedAddress.
func responseToWatched(resp *watchedResponse) (*WatchedAddress, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &WatchedAddress{
		Address:       resp.Address,
		PollInterval:  pollInterval,
		Status:        resp.Status,
		LastSignature: resp.LastSignature,
		LastPollTime:  resp.LastPollTime,
		CreatedAt:     resp.CreatedAt,
		UpdatedAt:     resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
