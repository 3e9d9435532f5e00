package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/db"
	"github.com/brojonat/xray/service/metrics"
	natspkg "github.com/brojonat/xray/service/nats"
)

// maxFetchPages bounds how many pages FetchTransactions walks back towards the
// cursor in a single run.
const maxFetchPages = 10

// WatchAddressInput contains the input parameters for one watch run.
type WatchAddressInput struct {
	Address string `json:"address"`
	Limit   int    `json:"limit,omitempty"`
}

// WatchAddressResult summarizes one watch run.
type WatchAddressResult struct {
	Address         string    `json:"address"`
	Fetched         int       `json:"fetched"`
	Stored          int       `json:"stored"`
	Published       int       `json:"published"`
	NewestSignature *string   `json:"newest_signature,omitempty"`
	PollTime        time.Time `json:"poll_time"`
	Error           *string   `json:"error,omitempty"`
}

// GetCursorInput contains parameters for the GetCursor activity.
type GetCursorInput struct {
	Address string `json:"address"`
}

// GetCursorResult holds the newest signature already processed, if any.
type GetCursorResult struct {
	LastSignature *string `json:"last_signature,omitempty"`
}

// FetchTransactionsInput contains parameters for the FetchTransactions activity.
type FetchTransactionsInput struct {
	Address string  `json:"address"`
	Until   *string `json:"until,omitempty"`
	Limit   int     `json:"limit"`
}

// FetchTransactionsResult holds fetched transactions, newest first.
type FetchTransactionsResult struct {
	Transactions    []*classify.RawTransaction `json:"transactions"`
	NewestSignature *string                    `json:"newest_signature,omitempty"`
}

// ClassifyTransactionsInput contains parameters for the ClassifyTransactions activity.
type ClassifyTransactionsInput struct {
	Viewer       string                     `json:"viewer"`
	Transactions []*classify.RawTransaction `json:"transactions"`
}

// ClassifyTransactionsResult holds canonical transactions in input order.
type ClassifyTransactionsResult struct {
	Transactions []classify.Transaction `json:"transactions"`
}

// StoreTransactionsInput contains parameters for the StoreTransactions activity.
type StoreTransactionsInput struct {
	Viewer       string                 `json:"viewer"`
	Transactions []classify.Transaction `json:"transactions"`
}

// StoreTransactionsResult contains the result of storing transactions.
type StoreTransactionsResult struct {
	Stored int `json:"stored"`
}

// PublishTransactionsInput contains parameters for the PublishTransactions activity.
type PublishTransactionsInput struct {
	Address      string                 `json:"address"`
	Transactions []classify.Transaction `json:"transactions"`
}

// PublishTransactionsResult contains the result of publishing transactions.
type PublishTransactionsResult struct {
	Published int `json:"published"`
}

// UpdateCursorInput contains parameters for the UpdateCursor activity. A nil
// LastSignature only records the poll time.
type UpdateCursorInput struct {
	Address         string    `json:"address"`
	LastSignature   *string   `json:"last_signature,omitempty"`
	WorkflowStarted time.Time `json:"workflow_started"`
}

// StoreInterface defines the database operations needed by activities.
type StoreInterface interface {
	GetWatchedAddress(ctx context.Context, address string) (*db.WatchedAddress, error)
	UpsertTransactions(ctx context.Context, viewer string, txs []classify.Transaction) error
	UpdateWatchedAddressCursor(ctx context.Context, address string, lastSignature *string, pollTime time.Time) (*db.WatchedAddress, error)
}

// PublisherInterface defines the NATS publishing operations needed by activities.
type PublisherInterface interface {
	PublishTransactionBatch(ctx context.Context, events []*natspkg.TransactionEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	store      StoreInterface
	source     chain.Source
	classifier *classify.Classifier
	publisher  PublisherInterface
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// publisher and m may be nil.
func NewActivities(
	store StoreInterface,
	source chain.Source,
	classifier *classify.Classifier,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = classify.NewClassifier(classify.DefaultLabels(), classify.DefaultOptions(), m, logger)
	}
	return &Activities{
		store:      store,
		source:     source,
		classifier: classifier,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

func (a *Activities) observe(activity string) func() {
	start := time.Now()
	return func() {
		if a.metrics != nil {
			a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
		}
	}
}

// GetCursor returns the newest signature already processed for the address.
func (a *Activities) GetCursor(ctx context.Context, input GetCursorInput) (*GetCursorResult, error) {
	defer a.observe("GetCursor")()

	w, err := a.store.GetWatchedAddress(ctx, input.Address)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			a.logger.WarnContext(ctx, "address is not watched, starting without cursor", "address", input.Address)
			return &GetCursorResult{}, nil
		}
		return nil, fmt.Errorf("failed to get watched address: %w", err)
	}

	a.logger.DebugContext(ctx, "loaded cursor",
		"address", input.Address,
		"last_signature", w.LastSignature,
	)
	return &GetCursorResult{LastSignature: w.LastSignature}, nil
}

// FetchTransactions pulls transactions newer than the cursor from the source,
// walking back page by page until the cursor is reached. Without a cursor a
// single page is fetched.
func (a *Activities) FetchTransactions(ctx context.Context, input FetchTransactionsInput) (*FetchTransactionsResult, error) {
	defer a.observe("FetchTransactions")()

	limit := input.Limit
	if limit <= 0 {
		limit = chain.DefaultListLimit
	}
	opts := chain.ListOptions{Limit: limit}
	if input.Until != nil {
		opts.Until = *input.Until
	}

	var all []*classify.RawTransaction
	for page := 0; page < maxFetchPages; page++ {
		txns, err := a.source.ListTransactions(ctx, input.Address, opts)
		if err != nil {
			a.logger.ErrorContext(ctx, "failed to fetch transactions",
				"address", input.Address,
				"page", page,
				"error", err,
			)
			return nil, fmt.Errorf("failed to fetch transactions: %w", err)
		}
		all = append(all, txns...)

		if input.Until == nil || len(txns) < limit {
			break
		}
		opts.Before = txns[len(txns)-1].Signature
	}

	result := &FetchTransactionsResult{Transactions: all}
	if len(all) > 0 {
		newest := all[0].Signature
		result.NewestSignature = &newest
	}

	if a.metrics != nil {
		a.metrics.RecordTransactionsIngested("fetched", len(all))
	}
	a.logger.InfoContext(ctx, "fetched transactions",
		"address", input.Address,
		"count", len(all),
		"newest_signature", result.NewestSignature,
	)
	return result, nil
}

// ClassifyTransactions classifies each transaction from the viewer's perspective.
func (a *Activities) ClassifyTransactions(ctx context.Context, input ClassifyTransactionsInput) (*ClassifyTransactionsResult, error) {
	defer a.observe("ClassifyTransactions")()

	txs := a.classifier.ClassifyBatch(input.Transactions, input.Viewer)

	if a.metrics != nil {
		a.metrics.RecordTransactionsIngested("classified", len(txs))
	}
	a.logger.DebugContext(ctx, "classified transactions", "viewer", input.Viewer, "count", len(txs))
	return &ClassifyTransactionsResult{Transactions: txs}, nil
}

// StoreTransactions upserts classified transactions for the viewer.
func (a *Activities) StoreTransactions(ctx context.Context, input StoreTransactionsInput) (*StoreTransactionsResult, error) {
	defer a.observe("StoreTransactions")()

	if err := a.store.UpsertTransactions(ctx, input.Viewer, input.Transactions); err != nil {
		a.logger.ErrorContext(ctx, "failed to store transactions",
			"viewer", input.Viewer,
			"count", len(input.Transactions),
			"error", err,
		)
		return nil, fmt.Errorf("failed to store transactions: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RecordTransactionsIngested("stored", len(input.Transactions))
	}
	a.logger.InfoContext(ctx, "stored transactions", "viewer", input.Viewer, "count", len(input.Transactions))
	return &StoreTransactionsResult{Stored: len(input.Transactions)}, nil
}

// PublishTransactions publishes classified transactions on the address's subject.
// It is a no-op when no publisher is configured.
func (a *Activities) PublishTransactions(ctx context.Context, input PublishTransactionsInput) (*PublishTransactionsResult, error) {
	defer a.observe("PublishTransactions")()

	if a.publisher == nil || len(input.Transactions) == 0 {
		return &PublishTransactionsResult{}, nil
	}

	events := make([]*natspkg.TransactionEvent, 0, len(input.Transactions))
	for _, tx := range input.Transactions {
		events = append(events, natspkg.NewTransactionEvent(input.Address, tx))
	}

	if err := a.publisher.PublishTransactionBatch(ctx, events); err != nil {
		return nil, fmt.Errorf("failed to publish transactions: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RecordTransactionsIngested("published", len(events))
	}
	return &PublishTransactionsResult{Published: len(events)}, nil
}

// UpdateCursor advances the address's cursor and records the poll time.
func (a *Activities) UpdateCursor(ctx context.Context, input UpdateCursorInput) error {
	defer a.observe("UpdateCursor")()

	_, err := a.store.UpdateWatchedAddressCursor(ctx, input.Address, input.LastSignature, time.Now().UTC())
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	if errors.Is(err, db.ErrNotFound) {
		a.logger.WarnContext(ctx, "address was unwatched during the run", "address", input.Address)
	}

	if a.metrics != nil && !input.WorkflowStarted.IsZero() {
		a.metrics.RecordWorkflowDuration("success", time.Since(input.WorkflowStarted).Seconds())
	}
	return nil
}
