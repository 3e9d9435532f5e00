package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/db"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 100     // signatures are 88 chars
	defaultHistoryPage = 50
	maxHistoryPage     = 1000
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleClassify classifies a raw transaction, or an array of them, sent in the body.
// POST /api/v1/classify?address={viewer}&group={bool}
func handleClassify(classifier *classify.Classifier, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))

		viewer, group, ok := perspective(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
				return
			}
			writeError(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var raws []*classify.RawTransaction
			if err := json.Unmarshal(trimmed, &raws); err != nil {
				logger.DebugContext(r.Context(), "failed to decode classify batch", "error", err)
				writeError(w, "invalid request body: must be a transaction or an array of transactions", http.StatusBadRequest)
				return
			}
			txs := classifier.ClassifyBatch(raws, viewer)
			if group {
				for i := range txs {
					txs[i] = classify.Group(txs[i])
				}
			}
			logger.DebugContext(r.Context(), "classified batch", "count", len(txs), "viewer", viewer)
			writeJSON(w, txs, http.StatusOK)
			return
		}

		var raw classify.RawTransaction
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			logger.DebugContext(r.Context(), "failed to decode classify request", "error", err)
			writeError(w, "invalid request body: must be a transaction or an array of transactions", http.StatusBadRequest)
			return
		}

		tx := classifier.Classify(&raw, viewer)
		if group {
			tx = classify.Group(tx)
		}
		logger.DebugContext(r.Context(), "classified transaction",
			"signature", tx.Signature,
			"type", tx.Type,
			"viewer", viewer,
		)
		writeJSON(w, tx, http.StatusOK)
	})
}

// handleGetTransaction fetches a transaction by signature and classifies it.
// Stored transactions are served from the store; fetched ones are stored.
// GET /api/v1/transactions/{signature}?address={viewer}&group={bool}
func handleGetTransaction(classifier *classify.Classifier, source chain.Source, store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))
		signature := r.PathValue("signature")

		if err := validateSignature(signature); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		viewer, group, ok := perspective(w, r)
		if !ok {
			return
		}

		respond := func(tx classify.Transaction) {
			if group {
				tx = classify.Group(tx)
			}
			writeJSON(w, tx, http.StatusOK)
		}

		if store != nil {
			stored, err := store.GetTransaction(r.Context(), signature, viewer)
			if err == nil {
				respond(stored.Transaction)
				return
			}
			if !errors.Is(err, db.ErrNotFound) {
				logger.WarnContext(r.Context(), "failed to read stored transaction", "signature", signature, "error", err)
			}
		}

		if source == nil {
			writeError(w, "transaction source not configured", http.StatusServiceUnavailable)
			return
		}

		raw, err := source.GetTransaction(r.Context(), signature)
		if err != nil {
			if errors.Is(err, chain.ErrTransactionNotFound) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.ErrorContext(r.Context(), "failed to fetch transaction", "signature", signature, "error", err)
			writeError(w, "failed to fetch transaction from source", http.StatusBadGateway)
			return
		}

		tx := classifier.Classify(raw, viewer)
		if store != nil {
			if err := store.UpsertTransaction(r.Context(), viewer, tx); err != nil {
				logger.WarnContext(r.Context(), "failed to store transaction", "signature", signature, "error", err)
			}
		}
		respond(tx)
	})
}

// handleListAddressTransactions fetches recent transactions of an address from the
// source and classifies them from its perspective.
// GET /api/v1/addresses/{address}/transactions?before=&until=&limit=&group=
func handleListAddressTransactions(classifier *classify.Classifier, source chain.Source, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))
		address := r.PathValue("address")
		query := r.URL.Query()

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts := chain.ListOptions{Before: query.Get("before"), Until: query.Get("until")}
		for _, sig := range []string{opts.Before, opts.Until} {
			if sig == "" {
				continue
			}
			if err := validateSignature(sig); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		limit, err := intParam(query.Get("limit"), "limit", chain.DefaultListLimit, 1, chain.DefaultListLimit)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Limit = limit
		group, err := boolParam(query.Get("group"), "group")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if source == nil {
			writeError(w, "transaction source not configured", http.StatusServiceUnavailable)
			return
		}

		raws, err := source.ListTransactions(r.Context(), address, opts)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list transactions", "address", address, "error", err)
			writeError(w, "failed to fetch transactions from source", http.StatusBadGateway)
			return
		}

		txs := classifier.ClassifyBatch(raws, address)
		if group {
			for i := range txs {
				txs[i] = classify.Group(txs[i])
			}
		}

		resp := map[string]interface{}{
			"address":      address,
			"transactions": txs,
			"count":        len(txs),
		}
		if len(txs) == limit {
			resp["next_before"] = txs[len(txs)-1].Signature
		}
		logger.DebugContext(r.Context(), "address transactions listed", "address", address, "count", len(txs))
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleHistory lists stored transactions classified for an address, newest first.
// GET /api/v1/addresses/{address}/history?limit=&offset=&group=
func handleHistory(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logger.With("request_id", requestID(r.Context()))
		address := r.PathValue("address")
		query := r.URL.Query()

		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		limit, err := intParam(query.Get("limit"), "limit", defaultHistoryPage, 1, maxHistoryPage)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := intParam(query.Get("offset"), "offset", 0, 0, -1)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		group, err := boolParam(query.Get("group"), "group")
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if store == nil {
			writeError(w, "history requires a database", http.StatusServiceUnavailable)
			return
		}

		rows, err := store.ListTransactionsByViewer(r.Context(), db.ListTransactionsByViewerParams{
			Viewer: address,
			Limit:  int32(limit),
			Offset: int32(offset),
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list history", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		total, err := store.CountTransactionsByViewer(r.Context(), address)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to count history", "address", address, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		txs := make([]classify.Transaction, len(rows))
		for i, row := range rows {
			txs[i] = row.Transaction
			if group {
				txs[i] = classify.Group(txs[i])
			}
		}

		writeJSON(w, map[string]interface{}{
			"address":      address,
			"transactions": txs,
			"count":        len(txs),
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// handleLabels lists the address labels used for ledger entries.
// GET /api/v1/labels
func handleLabels(labels *classify.Labels) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"labels": labels.All(),
			"count":  labels.Len(),
		}, http.StatusOK)
	})
}

// perspective reads the optional viewer address and grouping flag, writing a 400
// and returning ok=false when either is invalid.
func perspective(w http.ResponseWriter, r *http.Request) (viewer string, group bool, ok bool) {
	query := r.URL.Query()
	viewer = query.Get("address")
	if viewer != "" {
		if err := validateAddress(viewer); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return "", false, false
		}
	}
	group, err := boolParam(query.Get("group"), "group")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false, false
	}
	return viewer, group, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an account address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return errorf("invalid address: must be a base58 encoded 32 byte public key")
	}

	return nil
}

// validateSignature validates a base58 transaction signature.
func validateSignature(signature string) error {
	if signature == "" {
		return errorf("signature is required")
	}
	if len(signature) > maxSignatureLength || !validAddressRegex.MatchString(signature) {
		return errorf("invalid signature format: must contain only valid base58 characters")
	}
	decoded, err := base58.Decode(signature)
	if err != nil || len(decoded) != 64 {
		return errorf("invalid signature: must be a base58 encoded 64 byte signature")
	}
	return nil
}

// intParam parses an optional integer query parameter within [lo, hi]. A negative
// hi means unbounded.
func intParam(raw, name string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errorf("invalid %s parameter: must be an integer", name)
	}
	if v < lo {
		return 0, errorf("%s must be at least %d", name, lo)
	}
	if hi >= 0 && v > hi {
		return 0, errorf("%s cannot exceed %d", name, hi)
	}
	return v, nil
}

// boolParam parses an optional boolean query parameter.
func boolParam(raw, name string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errorf("invalid %s parameter: must be true or false", name)
	}
	return v, nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
