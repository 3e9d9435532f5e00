package nats

import (
	"time"

	"github.com/brojonat/xray/service/classify"
)

const (
	// StreamName is the name of the JetStream stream for classified transactions.
	StreamName = "XRAY_TRANSACTIONS"

	// SubjectPrefix prefixes every per-address subject.
	SubjectPrefix = "xray.txns."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + "*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// TransactionEvent is a classified transaction published to
// "xray.txns.{address}" for the address whose perspective it was classified from.
type TransactionEvent struct {
	Address     string               `json:"address"`
	Transaction classify.Transaction `json:"transaction"`
	PublishedAt time.Time            `json:"published_at"`
}

// NewTransactionEvent wraps tx for publishing on address's subject.
func NewTransactionEvent(address string, tx classify.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Address:     address,
		Transaction: tx,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the subject for address, or the wildcard for all addresses
// when address is empty.
func Subject(address string) string {
	if address == "" {
		return StreamSubjects
	}
	return SubjectPrefix + address
}
