package classify

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/xray/service/metrics"
)

// Classifier reduces raw transactions to their canonical form. It holds only
// read-only state and is safe for concurrent use.
type Classifier struct {
	labels  *Labels
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewClassifier creates a classifier. A nil labels table yields unlabelled ledgers,
// nil metrics disables instrumentation and a nil logger uses slog.Default().
func NewClassifier(labels *Labels, opts Options, m *metrics.Metrics, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		labels:  labels,
		opts:    opts.withDefaults(),
		metrics: m,
		logger:  logger,
	}
}

// Labels returns the label table used for ledgers.
func (c *Classifier) Labels() *Labels {
	return c.labels
}

// Options returns the effective classification options.
func (c *Classifier) Options() Options {
	return c.opts
}

// Classify returns the canonical form of raw as seen by viewer ("" for no viewer).
// It never fails: a parser error or panic is logged and replaced by the unknown
// parser's output for the same input.
func (c *Classifier) Classify(raw *RawTransaction, viewer string) Transaction {
	start := time.Now()
	e := env{labels: c.labels, opts: c.opts}

	if raw == nil {
		return Transaction{Type: TypeUnknown, Fee: c.opts.ToNative(0), Actions: []Action{}, Accounts: []LedgerEntry{}}
	}

	parser, _ := lookupParser(raw.Type)
	status := "ok"

	tx, err := safeParse(parser, e, raw, viewer)
	if err != nil {
		status = "fallback"
		reason := "error"
		var pe *panicError
		if errors.As(err, &pe) {
			reason = "panic"
		}
		c.logger.Warn("parser failed, using unknown classification",
			"signature", raw.Signature,
			"type", raw.Type,
			"reason", reason,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.RecordClassifyFallback(string(raw.Type), reason)
		}

		tx, err = safeParse(parseUnknown, e, raw, viewer)
		if err != nil {
			c.logger.Error("unknown parser failed, returning empty classification",
				"signature", raw.Signature,
				"error", err,
			)
			tx = e.base(raw)
		}
	}

	tx.CustomType = InferCustomType(raw)

	if c.metrics != nil {
		c.metrics.RecordClassification(string(raw.Type), status, len(tx.Actions), time.Since(start).Seconds())
	}
	c.logger.Debug("classified transaction",
		"signature", raw.Signature,
		"type", tx.Type,
		"actions", len(tx.Actions),
		"accounts", len(tx.Accounts),
		"status", status,
	)
	return tx
}

// ClassifyBatch classifies each transaction in order with the same viewer.
func (c *Classifier) ClassifyBatch(raws []*RawTransaction, viewer string) []Transaction {
	out := make([]Transaction, 0, len(raws))
	for _, raw := range raws {
		out = append(out, c.Classify(raw, viewer))
	}
	return out
}

// Group returns a copy of tx with its actions grouped.
func Group(tx Transaction) Transaction {
	tx.Actions = GroupActions(tx.Actions)
	return tx
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("parser panic: %v", p.value)
}

func safeParse(p parserFunc, e env, raw *RawTransaction, viewer string) (tx Transaction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return p(e, raw, viewer)
}
