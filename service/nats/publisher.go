package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/xray/service/metrics"
)

// Publisher publishes classified transaction events.
type Publisher interface {
	// PublishTransaction publishes a single event to "xray.txns.{address}".
	PublishTransaction(ctx context.Context, event *TransactionEvent) error

	// PublishTransactionBatch publishes events in order. It returns an error
	// only when every event failed.
	PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error

	Close() error
}

// Subscriber delivers events published for one address (or all addresses when
// address is empty) until ctx is done or stop is called.
type Subscriber interface {
	Subscribe(ctx context.Context, address string, handler func(*TransactionEvent)) (stop func(), err error)
}

// JetStream publishes and subscribes to transaction events on NATS JetStream.
type JetStream struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Connect connects to NATS and ensures the transaction stream exists.
func Connect(natsURL, name string, m *metrics.Metrics, logger *slog.Logger) (*JetStream, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &JetStream{nc: nc, js: js, logger: logger, metrics: m}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS connection initialized", "url", natsURL, "stream", StreamName)
	return p, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStream) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)
	_, err = p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Classified Solana transactions per watched address",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// PublishTransaction publishes a single transaction event.
func (p *JetStream) PublishTransaction(ctx context.Context, event *TransactionEvent) error {
	if event.Address == "" {
		return errors.New("event has no address")
	}
	subject := Subject(event.Address)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish transaction: %w", err)
	}

	p.logger.DebugContext(ctx, "published transaction event",
		"subject", subject,
		"signature", event.Transaction.Signature,
	)
	return nil
}

// PublishTransactionBatch publishes events one by one, continuing past failures.
func (p *JetStream) PublishTransactionBatch(ctx context.Context, events []*TransactionEvent) error {
	return publishEach(ctx, p, p.logger, events)
}

// Subscribe creates an ephemeral consumer that only sees events published after
// the call.
func (p *JetStream) Subscribe(ctx context.Context, address string, handler func(*TransactionEvent)) (func(), error) {
	cons, err := p.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{Subject(address)},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var event TransactionEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			p.logger.WarnContext(ctx, "failed to unmarshal event", "subject", msg.Subject(), "error", err)
			return
		}
		handler(&event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			cc.Stop()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return stop, nil
}

// StreamInfo returns the state and configuration of the transaction stream.
func (p *JetStream) StreamInfo(ctx context.Context) (*jetstream.StreamInfo, error) {
	stream, err := p.js.Stream(ctx, StreamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}
	return info, nil
}

// Close closes the connection to NATS.
func (p *JetStream) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS connection closed")
	}
	return nil
}

func publishEach(ctx context.Context, p Publisher, logger *slog.Logger, events []*TransactionEvent) error {
	if len(events) == 0 {
		return nil
	}

	var failed int
	var lastErr error
	for _, event := range events {
		if err := p.PublishTransaction(ctx, event); err != nil {
			logger.ErrorContext(ctx, "failed to publish transaction in batch",
				"signature", event.Transaction.Signature,
				"address", event.Address,
				"error", err,
			)
			failed++
			lastErr = err
		}
	}
	if failed == len(events) {
		return fmt.Errorf("all %d events failed to publish: %w", failed, lastErr)
	}
	logger.DebugContext(ctx, "published transaction batch", "count", len(events), "failed", failed)
	return nil
}
