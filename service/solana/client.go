package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/metrics"
)

// SourceName labels metrics recorded by this client.
const SourceName = "rpc"

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client fetches transactions over JSON-RPC and enriches them into the raw
// form the classifier consumes.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for logs (e.g., "mainnet", rpc host)

	requestDelay time.Duration
	retryBase    time.Duration
	maxAttempts  int
}

// NewClient creates a new Solana client.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		requestDelay: 150 * time.Millisecond,
		retryBase:    time.Second,
		maxAttempts:  3,
	}
}

// WithRequestDelay sets the pause between transaction fetches while listing.
// Public mainnet endpoints need roughly 600ms; premium endpoints tolerate much less.
func (c *Client) WithRequestDelay(d time.Duration) *Client {
	c.requestDelay = d
	return c
}

// GetTransaction fetches and enriches a single transaction.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*classify.RawTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	result, err := c.fetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	return toRawTransaction(signature, result)
}

// ListTransactions returns the address's transactions, newest first. Transactions
// whose details cannot be fetched are returned with signature metadata only.
func (c *Client) ListTransactions(ctx context.Context, address string, opts chain.ListOptions) ([]*classify.RawTransaction, error) {
	wallet, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	limit := opts.EffectiveLimit()
	rpcOpts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
	if opts.Before != "" {
		if rpcOpts.Before, err = solana.SignatureFromBase58(opts.Before); err != nil {
			return nil, fmt.Errorf("invalid before signature %q: %w", opts.Before, err)
		}
	}
	if opts.Until != "" {
		if rpcOpts.Until, err = solana.SignatureFromBase58(opts.Until); err != nil {
			return nil, fmt.Errorf("invalid until signature %q: %w", opts.Until, err)
		}
	}

	c.logger.DebugContext(ctx, "calling GetSignaturesForAddress",
		"address", address,
		"limit", limit,
		"before", opts.Before,
		"until", opts.Until,
		"endpoint", c.endpoint,
	)

	start := time.Now()
	signatures, err := c.rpc.GetSignaturesForAddress(ctx, wallet, rpcOpts)
	c.recordCall("GetSignaturesForAddress", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get signatures",
			"address", address,
			"error", err,
		)
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}
	if c.metrics != nil {
		c.metrics.RecordTransactionsPerCall(SourceName, len(signatures))
	}

	transactions := make([]*classify.RawTransaction, 0, len(signatures))
	for i, sig := range signatures {
		if i > 0 && c.requestDelay > 0 {
			if err := sleep(ctx, c.requestDelay); err != nil {
				return nil, err
			}
		}

		result, err := c.fetchTransaction(ctx, sig.Signature)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.WarnContext(ctx, "failed to get transaction details, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToRaw(sig))
			continue
		}

		raw, err := toRawTransaction(sig.Signature.String(), result)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to enrich transaction, using metadata only",
				"signature", sig.Signature.String(),
				"error", err,
			)
			transactions = append(transactions, signatureToRaw(sig))
			continue
		}
		transactions = append(transactions, raw)
	}

	c.logger.InfoContext(ctx, "fetched transactions",
		"address", address,
		"count", len(transactions),
	)

	return transactions, nil
}

// fetchTransaction retries with exponential backoff, longer on rate limits, and
// falls back to legacy decoding when the node rejects versioned options.
func (c *Client) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	var lastErr error

	for attempt := range c.maxAttempts {
		opts := &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			MaxSupportedTransactionVersion: &maxVersion,
		}
		start := time.Now()
		result, err := c.rpc.GetTransaction(ctx, sig, opts)
		c.recordCall("GetTransaction", start, err)

		if err == nil {
			if result == nil {
				return nil, chain.ErrTransactionNotFound
			}
			return result, nil
		}
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, chain.ErrTransactionNotFound
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		// Handle rate limiting (429 Too Many Requests) with longer backoff
		if strings.Contains(err.Error(), "429") {
			backoff := c.retryBase * time.Duration(2<<uint(attempt)) // 2s, 4s, 8s
			c.logger.WarnContext(ctx, "rate limited, sleeping before retry",
				"signature", sig.String(),
				"attempt", attempt+1,
				"backoff_seconds", backoff.Seconds(),
			)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(SourceName)
				c.metrics.RecordSourceRetry(SourceName, "GetTransaction", "rate_limit")
			}
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		if strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'") {
			c.logger.WarnContext(ctx, "could not parse as versioned tx, retrying as legacy",
				"signature", sig.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordSourceRetry(SourceName, "GetTransaction", "parse_error")
			}

			legacyStart := time.Now()
			result, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{Encoding: solana.EncodingBase64})
			c.recordCall("GetTransaction", legacyStart, err)
			if err == nil && result != nil {
				return result, nil
			}
			if err != nil {
				lastErr = err
			}
		}

		backoff := c.retryBase * time.Duration(1<<uint(attempt)) // 1s, 2s, 4s
		c.logger.WarnContext(ctx, "failed to get transaction on attempt",
			"signature", sig.String(),
			"attempt", attempt+1,
			"error", lastErr,
			"backoff_seconds", backoff.Seconds(),
		)
		if c.metrics != nil {
			c.metrics.RecordSourceRetry(SourceName, "GetTransaction", "timeout_or_error")
		}
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("get transaction %s after %d attempts: %w", sig, c.maxAttempts, lastErr)
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

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
