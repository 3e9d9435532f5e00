// Package chain defines the contract shared by transaction sources.
package chain

import (
	"context"
	"errors"

	"github.com/brojonat/xray/service/classify"
)

// ErrTransactionNotFound is returned when a source has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

// DefaultListLimit is used when ListOptions.Limit is zero.
const DefaultListLimit = 100

// ListOptions pages through an address's history. Before and Until are
// signatures; results are newest first, strictly older than Before and strictly
// newer than Until.
type ListOptions struct {
	Before string
	Until  string
	Limit  int
}

// EffectiveLimit returns Limit, or DefaultListLimit when it is not positive.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Source fetches enriched transactions ready for classification.
type Source interface {
	GetTransaction(ctx context.Context, signature string) (*classify.RawTransaction, error)
	ListTransactions(ctx context.Context, address string, opts ListOptions) ([]*classify.RawTransaction, error)
}
