package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/xray/service/config"
	"github.com/brojonat/xray/service/db"
	"github.com/brojonat/xray/service/temporal"
)

const maxPollInterval = 24 * time.Hour

// watchResponse is the JSON response format for a watched address.
type watchResponse struct {
	Address       string     `json:"address"`
	PollInterval  string     `json:"poll_interval"`
	Status        string     `json:"status"`
	LastSignature *string    `json:"last_signature,omitempty"`
	LastPollTime  *time.Time `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func watchToResponse(w *db.WatchedAddress) watchResponse {
	return watchResponse{
		Address:       w.Address,
		PollInterval:  w.PollInterval.String(),
		Status:        w.Status,
		LastSignature: w.LastSignature,
		LastPollTime:  w.LastPollTime,
		CreatedAt:     w.CreatedAt,
		UpdatedAt:     w.UpdatedAt,
	}
}

// handleWatch registers an address for scheduled watching, or updates its poll
// interval when it is already watched.
// POST /api/v1/watch {"address": "...", "poll_interval": "30s"}
func handleWatch(store Store, scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))
		if store == nil || scheduler == nil {
			writeError(w, "watching requires a database and temporal", http.StatusServiceUnavailable)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Address      string `json:"address"`
			PollInterval string `json:"poll_interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		if err := validateAddress(req.Address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		pollInterval := cfg.DefaultPollInterval
		if req.PollInterval != "" {
			d, err := time.ParseDuration(req.PollInterval)
			if err != nil {
				writeError(w, "invalid poll_interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			pollInterval = d
		}
		if err := validatePollInterval(pollInterval, cfg.MinPollInterval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		_, err := store.GetWatchedAddress(r.Context(), req.Address)
		isNew := errors.Is(err, db.ErrNotFound)
		if err != nil && !isNew {
			logger.ErrorContext(r.Context(), "failed to look up watched address", "address", req.Address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		watched, err := store.UpsertWatchedAddress(r.Context(), db.UpsertWatchedAddressParams{
			Address:      req.Address,
			PollInterval: pollInterval,
			Status:       db.StatusActive,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to save watched address", "address", req.Address, "error", err)
			writeError(w, "failed to watch address", http.StatusInternalServerError)
			return
		}

		if err := scheduler.UpsertAddressSchedule(r.Context(), req.Address, pollInterval); err != nil {
			logger.ErrorContext(r.Context(), "failed to schedule address", "address", req.Address, "error", err)
			if isNew {
				// Rollback so a retry starts clean
				if delErr := store.DeleteWatchedAddress(r.Context(), req.Address); delErr != nil {
					logger.ErrorContext(r.Context(), "failed to roll back watched address", "address", req.Address, "error", delErr)
				}
			}
			writeError(w, "failed to schedule address", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if isNew {
			status = http.StatusCreated
		}
		logger.InfoContext(r.Context(), "address watched",
			"address", watched.Address,
			"poll_interval", watched.PollInterval,
			"new", isNew,
		)
		writeJSON(w, watchToResponse(watched), status)
	})
}

// handleListWatched lists all watched addresses.
// GET /api/v1/watch
func handleListWatched(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeError(w, "watching requires a database", http.StatusServiceUnavailable)
			return
		}

		watched, err := store.ListWatchedAddresses(r.Context())
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list watched addresses", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]watchResponse, len(watched))
		for i, wa := range watched {
			resp[i] = watchToResponse(wa)
		}
		writeJSON(w, map[string]interface{}{
			"addresses": resp,
			"count":     len(resp),
		}, http.StatusOK)
	})
}

// handleGetWatched returns one watched address.
// GET /api/v1/watch/{address}
func handleGetWatched(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if store == nil {
			writeError(w, "watching requires a database", http.StatusServiceUnavailable)
			return
		}

		watched, err := store.GetWatchedAddress(r.Context(), address)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "address is not watched", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get watched address", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, watchToResponse(watched), http.StatusOK)
	})
}

// handleUnwatch stops watching an address. Stored history is kept.
// DELETE /api/v1/watch/{address}
func handleUnwatch(store Store, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if store == nil || scheduler == nil {
			writeError(w, "watching requires a database and temporal", http.StatusServiceUnavailable)
			return
		}

		if _, err := store.GetWatchedAddress(r.Context(), address); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, "address is not watched", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to get watched address", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Schedule first so a failure leaves the address fully watched
		if err := scheduler.DeleteAddressSchedule(r.Context(), address); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete schedule", "address", address, "error", err)
			writeError(w, "failed to delete schedule", http.StatusInternalServerError)
			return
		}

		if err := store.DeleteWatchedAddress(r.Context(), address); err != nil && !errors.Is(err, db.ErrNotFound) {
			logger.ErrorContext(r.Context(), "failed to delete watched address", "address", address, "error", err)
			writeError(w, "failed to unwatch address", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "address unwatched", "address", address)
		w.WriteHeader(http.StatusNoContent)
	})
}

// validatePollInterval validates a poll interval for reasonable bounds.
func validatePollInterval(interval, minInterval time.Duration) error {
	if interval <= 0 {
		return errorf("poll_interval must be positive")
	}

	if interval < minInterval {
		return errorf("poll_interval must be at least %v", minInterval)
	}

	if interval > maxPollInterval {
		return errorf("poll_interval cannot exceed %v", maxPollInterval)
	}

	return nil
}
