package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/xray/service/metrics"
	natspkg "github.com/brojonat/xray/service/nats"
)

var keepaliveInterval = 10 * time.Second

// handleStreamTransactions streams classified transactions over SSE.
// If the address path parameter is empty, every watched address is streamed.
// GET /api/v1/stream/{address}
func handleStreamTransactions(subscriber natspkg.Subscriber, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		address := r.PathValue("address")
		desc := address
		if address == "" {
			desc = "all"
		} else if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		events := make(chan *natspkg.TransactionEvent, 10)
		stop, err := subscriber.Subscribe(ctx, address, func(e *natspkg.TransactionEvent) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to subscribe", "address", desc, "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}
		defer stop()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if m != nil {
			m.RecordSSEConnectionChange(desc, 1)
			defer m.RecordSSEConnectionChange(desc, -1)
		}
		logger.DebugContext(ctx, "SSE client connected", "address", desc, "remote_addr", r.RemoteAddr)

		connected, _ := json.Marshal(map[string]string{"address": desc})
		fmt.Fprintf(w, "event: connected\ndata: %s\n\n", connected)
		flusher.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", data)
				flusher.Flush()

				if m != nil {
					m.RecordSSEEventSent(desc, "transaction")
				}
				logger.DebugContext(ctx, "sent transaction event",
					"address", event.Address,
					"signature", event.Transaction.Signature,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "address", desc, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
