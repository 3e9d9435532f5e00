package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// WorkflowName is the registered name of WatchAddressWorkflow.
const WorkflowName = "WatchAddressWorkflow"

var a *Activities // for type-safe activity invocation

// WatchAddressWorkflow fetches, classifies, stores and publishes the transactions
// of one address that are newer than its cursor. It is triggered by a per-address
// schedule.
//
// The cursor only advances after the transactions are stored, so a failed run is
// picked up again by the next one. Publishing failures are logged and do not fail
// the run.
func WatchAddressWorkflow(ctx workflow.Context, input WatchAddressInput) (*WatchAddressResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("WatchAddressWorkflow started", "address", input.Address)

	started := workflow.Now(ctx)
	result := &WatchAddressResult{
		Address:  input.Address,
		PollTime: started,
	}
	fail := func(step string, err error) (*WatchAddressResult, error) {
		msg := fmt.Sprintf("failed to %s: %v", step, err)
		result.Error = &msg
		logger.Error("WatchAddressWorkflow failed", "address", input.Address, "step", step, "error", err)
		return result, fmt.Errorf("failed to %s: %w", step, err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	// Step 1: cursor
	var cursor *GetCursorResult
	if err := workflow.ExecuteActivity(ctx, a.GetCursor, GetCursorInput{Address: input.Address}).Get(ctx, &cursor); err != nil {
		return fail("get cursor", err)
	}

	// Step 2: fetch
	var fetched *FetchTransactionsResult
	fetchInput := FetchTransactionsInput{
		Address: input.Address,
		Until:   cursor.LastSignature,
		Limit:   input.Limit,
	}
	if err := workflow.ExecuteActivity(ctx, a.FetchTransactions, fetchInput).Get(ctx, &fetched); err != nil {
		return fail("fetch transactions", err)
	}
	result.Fetched = len(fetched.Transactions)
	result.NewestSignature = fetched.NewestSignature

	if len(fetched.Transactions) > 0 {
		// Step 3: classify from the watched address's perspective
		var classified *ClassifyTransactionsResult
		classifyInput := ClassifyTransactionsInput{Viewer: input.Address, Transactions: fetched.Transactions}
		if err := workflow.ExecuteActivity(ctx, a.ClassifyTransactions, classifyInput).Get(ctx, &classified); err != nil {
			return fail("classify transactions", err)
		}

		// Step 4: store
		var stored *StoreTransactionsResult
		storeInput := StoreTransactionsInput{Viewer: input.Address, Transactions: classified.Transactions}
		if err := workflow.ExecuteActivity(ctx, a.StoreTransactions, storeInput).Get(ctx, &stored); err != nil {
			return fail("store transactions", err)
		}
		result.Stored = stored.Stored

		// Step 5: publish, best effort
		var published *PublishTransactionsResult
		publishInput := PublishTransactionsInput{Address: input.Address, Transactions: classified.Transactions}
		if err := workflow.ExecuteActivity(ctx, a.PublishTransactions, publishInput).Get(ctx, &published); err != nil {
			logger.Warn("failed to publish transactions", "address", input.Address, "error", err)
		} else {
			result.Published = published.Published
		}
	} else {
		logger.Info("no new transactions found", "address", input.Address)
	}

	// Step 6: cursor
	updateInput := UpdateCursorInput{
		Address:         input.Address,
		LastSignature:   fetched.NewestSignature,
		WorkflowStarted: started,
	}
	if err := workflow.ExecuteActivity(ctx, a.UpdateCursor, updateInput).Get(ctx, nil); err != nil {
		return fail("update cursor", err)
	}

	logger.Info("WatchAddressWorkflow completed successfully",
		"address", input.Address,
		"fetched", result.Fetched,
		"stored", result.Stored,
		"published", result.Published,
	)
	return result, nil
}
