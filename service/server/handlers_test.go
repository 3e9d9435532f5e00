package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/config"
	"github.com/brojonat/xray/service/db"
	natspkg "github.com/brojonat/xray/service/nats"
	"github.com/brojonat/xray/service/temporal"
)

var (
	alice = solanago.NewWallet().PublicKey().String()
	bob   = solanago.NewWallet().PublicKey().String()
)

func sigOf(b byte) string {
	var s solanago.Signature
	s[0], s[63] = b, b
	return s.String()
}

func transferJSON(signature string, lamports ...int64) string {
	var transfers []string
	for _, l := range lamports {
		transfers = append(transfers, fmt.Sprintf(`{"fromUserAccount":%q,"toUserAccount":%q,"amount":%d}`, alice, bob, l))
	}
	return fmt.Sprintf(`{"signature":%q,"type":"TRANSFER","source":"SYSTEM_PROGRAM","fee":5000,"timestamp":1709294400,"nativeTransfers":[%s]}`,
		signature, strings.Join(transfers, ","))
}

func rawTransfer(t *testing.T, signature string, lamports ...int64) *classify.RawTransaction {
	t.Helper()
	var raw classify.RawTransaction
	require.NoError(t, json.Unmarshal([]byte(transferJSON(signature, lamports...)), &raw))
	return &raw
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu      sync.Mutex
	txs     map[string]*db.ClassifiedTransaction // key: viewer|signature
	watched map[string]*db.WatchedAddress
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		txs:     make(map[string]*db.ClassifiedTransaction),
		watched: make(map[string]*db.WatchedAddress),
	}
}

func (s *memoryStore) UpsertTransaction(ctx context.Context, viewer string, tx classify.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.txs[viewer+"|"+tx.Signature] = &db.ClassifiedTransaction{Viewer: viewer, Transaction: tx, CreatedAt: time.Now()}
	return nil
}

func (s *memoryStore) GetTransaction(ctx context.Context, signature, viewer string) (*db.ClassifiedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	tx, ok := s.txs[viewer+"|"+signature]
	if !ok {
		return nil, db.ErrNotFound
	}
	return tx, nil
}

func (s *memoryStore) ListTransactionsByViewer(ctx context.Context, params db.ListTransactionsByViewerParams) ([]*db.ClassifiedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var rows []*db.ClassifiedTransaction
	for _, tx := range s.txs {
		if tx.Viewer == params.Viewer {
			rows = append(rows, tx)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Transaction.Timestamp > rows[j].Transaction.Timestamp
	})
	start := min(int(params.Offset), len(rows))
	end := min(start+int(params.Limit), len(rows))
	return rows[start:end], nil
}

func (s *memoryStore) CountTransactionsByViewer(ctx context.Context, viewer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tx := range s.txs {
		if tx.Viewer == viewer {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) UpsertWatchedAddress(ctx context.Context, params db.UpsertWatchedAddressParams) (*db.WatchedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	w, ok := s.watched[params.Address]
	if !ok {
		w = &db.WatchedAddress{Address: params.Address, CreatedAt: time.Now()}
		s.watched[params.Address] = w
	}
	w.PollInterval = params.PollInterval
	w.Status = params.Status
	w.UpdatedAt = time.Now()
	return w, nil
}

func (s *memoryStore) GetWatchedAddress(ctx context.Context, address string) (*db.WatchedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	w, ok := s.watched[address]
	if !ok {
		return nil, db.ErrNotFound
	}
	return w, nil
}

func (s *memoryStore) ListWatchedAddresses(ctx context.Context) ([]*db.WatchedAddress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.WatchedAddress
	for _, w := range s.watched {
		out = append(out, w)
	}
	return out, nil
}

func (s *memoryStore) DeleteWatchedAddress(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[address]; !ok {
		return db.ErrNotFound
	}
	delete(s.watched, address)
	return nil
}

// stubSource serves canned transactions.
type stubSource struct {
	txs      map[string]*classify.RawTransaction
	list     []*classify.RawTransaction
	err      error
	gets     int
	lastOpts chain.ListOptions
}

func (s *stubSource) GetTransaction(ctx context.Context, signature string) (*classify.RawTransaction, error) {
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	raw, ok := s.txs[signature]
	if !ok {
		return nil, chain.ErrTransactionNotFound
	}
	return raw, nil
}

func (s *stubSource) ListTransactions(ctx context.Context, address string, opts chain.ListOptions) ([]*classify.RawTransaction, error) {
	s.lastOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.list, nil
}

type testServer struct {
	handler   http.Handler
	store     *memoryStore
	source    *stubSource
	scheduler *temporal.MockScheduler
	publisher *natspkg.MockPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		store:     newMemoryStore(),
		source:    &stubSource{txs: map[string]*classify.RawTransaction{}},
		scheduler: temporal.NewMockScheduler(),
		publisher: natspkg.NewMockPublisher(),
	}
	cfg := &config.Config{DefaultPollInterval: 30 * time.Second, MinPollInterval: 10 * time.Second}
	srv := New(":0", cfg, Dependencies{
		Source:     ts.source,
		Store:      ts.store,
		Scheduler:  ts.scheduler,
		Subscriber: ts.publisher,
	}, nil, slog.New(slog.DiscardHandler))
	ts.handler = srv.Handler()
	return ts
}

func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeTx(t *testing.T, rec *httptest.ResponseRecorder) classify.Transaction {
	t.Helper()
	var tx classify.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tx), rec.Body.String())
	return tx
}

func TestHandleClassify(t *testing.T) {
	ts := newTestServer(t)

	t.Run("single transaction from the sender's perspective", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/classify?address="+alice, transferJSON("sig-1", 1_000_000_000))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		tx := decodeTx(t, rec)
		assert.Equal(t, classify.TypeTransfer, tx.Type)
		assert.Equal(t, "0.000005", tx.Fee.String())
		require.Len(t, tx.Actions, 1)
		assert.Equal(t, classify.ActionSent, tx.Actions[0].ActionType)
		assert.Equal(t, "1", tx.Actions[0].Amount.String())
	})

	t.Run("batch keeps order", func(t *testing.T) {
		body := "[" + transferJSON("sig-1", 1) + "," + transferJSON("sig-2", 2) + "]"
		rec := ts.do(http.MethodPost, "/api/v1/classify", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var txs []classify.Transaction
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
		require.Len(t, txs, 2)
		assert.Equal(t, "sig-1", txs[0].Signature)
		assert.Equal(t, "sig-2", txs[1].Signature)
	})

	t.Run("group merges identical movements", func(t *testing.T) {
		rec := ts.do(http.MethodPost, "/api/v1/classify?group=true&address="+alice, transferJSON("sig-1", 10_000_000, 20_000_000))
		require.Equal(t, http.StatusOK, rec.Code)
		tx := decodeTx(t, rec)
		require.Len(t, tx.Actions, 1)
		assert.Equal(t, "0.03", tx.Actions[0].Amount.String())
	})

	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "malformed JSON", target: "/api/v1/classify", body: `{"signature":`, wantStatus: http.StatusBadRequest, wantError: "invalid request body"},
		{name: "invalid viewer", target: "/api/v1/classify?address=0OIl", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "base58"},
		{name: "viewer with SQL", target: "/api/v1/classify?address=abc%3Bdrop", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "address"},
		{name: "invalid group flag", target: "/api/v1/classify?group=maybe", body: `{}`, wantStatus: http.StatusBadRequest, wantError: "group"},
		{name: "body too large", target: "/api/v1/classify", body: `{"description":"` + strings.Repeat("A", 2<<20) + `"}`, wantStatus: http.StatusBadRequest, wantError: "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, tt.target, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantError)
		})
	}
}

func TestHandleGetTransaction(t *testing.T) {
	sig := sigOf(7)

	t.Run("fetches, classifies and stores", func(t *testing.T) {
		ts := newTestServer(t)
		ts.source.txs[sig] = rawTransfer(t, sig, 250_000_000)

		rec := ts.do(http.MethodGet, "/api/v1/transactions/"+sig+"?address="+bob, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		tx := decodeTx(t, rec)
		require.Len(t, tx.Actions, 1)
		assert.Equal(t, classify.ActionReceived, tx.Actions[0].ActionType)

		stored, err := ts.store.GetTransaction(context.Background(), sig, bob)
		require.NoError(t, err)
		assert.Equal(t, sig, stored.Transaction.Signature)

		// Second request is served from the store
		rec = ts.do(http.MethodGet, "/api/v1/transactions/"+sig+"?address="+bob, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, ts.source.gets)
	})

	t.Run("not found", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(http.MethodGet, "/api/v1/transactions/"+sig, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("source failure", func(t *testing.T) {
		ts := newTestServer(t)
		ts.source.err = errors.New("helius down")
		rec := ts.do(http.MethodGet, "/api/v1/transactions/"+sig, "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("invalid signature", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(http.MethodGet, "/api/v1/transactions/"+alice, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "64 byte")
	})

	t.Run("no source configured", func(t *testing.T) {
		handler := New(":0", nil, Dependencies{}, nil, slog.New(slog.DiscardHandler)).Handler()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+sig, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleListAddressTransactions(t *testing.T) {
	ts := newTestServer(t)
	ts.source.list = []*classify.RawTransaction{rawTransfer(t, sigOf(2), 1_000_000_000), rawTransfer(t, sigOf(1), 2_000_000_000)}

	rec := ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/transactions?limit=2&before="+sigOf(3), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Address      string                 `json:"address"`
		Transactions []classify.Transaction `json:"transactions"`
		Count        int                    `json:"count"`
		NextBefore   string                 `json:"next_before"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, alice, resp.Address)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, sigOf(1), resp.NextBefore)
	assert.Equal(t, classify.ActionSent, resp.Transactions[0].Actions[0].ActionType)
	assert.Equal(t, chain.ListOptions{Before: sigOf(3), Limit: 2}, ts.source.lastOpts)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/transactions?limit=500", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/transactions?until=bad0", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/addresses/not-an-address/transactions", "").Code)

	ts.source.err = errors.New("rate limited")
	assert.Equal(t, http.StatusBadGateway, ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/transactions", "").Code)
}

func TestHandleHistory(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, ts.store.UpsertTransaction(ctx, alice, classify.Transaction{
			Signature: fmt.Sprintf("sig-%d", i),
			Timestamp: int64(1000 + i),
		}))
	}

	rec := ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Transactions []classify.Transaction `json:"transactions"`
		Count        int                    `json:"count"`
		Total        int64                  `json:"total"`
		Limit        int                    `json:"limit"`
		Offset       int                    `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, "sig-2", resp.Transactions[0].Signature)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/history?offset=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/addresses/"+alice+"/history?limit=abc", "").Code)

	noStore := New(":0", nil, Dependencies{}, nil, slog.New(slog.DiscardHandler)).Handler()
	rec = httptest.NewRecorder()
	noStore.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/addresses/"+alice+"/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleWatch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/api/v1/watch", fmt.Sprintf(`{"address":%q}`, alice))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	interval, ok := ts.scheduler.GetScheduleInterval(alice)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, interval)

	rec = ts.do(http.MethodPost, "/api/v1/watch", fmt.Sprintf(`{"address":%q,"poll_interval":"1m"}`, alice))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp watchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1m0s", resp.PollInterval)
	assert.Equal(t, db.StatusActive, resp.Status)
	interval, _ = ts.scheduler.GetScheduleInterval(alice)
	assert.Equal(t, time.Minute, interval)

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "malformed JSON", body: `{"address":`, wantError: "invalid request body"},
		{name: "missing address", body: `{}`, wantError: "address is required"},
		{name: "bad duration", body: fmt.Sprintf(`{"address":%q,"poll_interval":"soon"}`, bob), wantError: "valid duration"},
		{name: "below minimum", body: fmt.Sprintf(`{"address":%q,"poll_interval":"1s"}`, bob), wantError: "at least 10s"},
		{name: "above maximum", body: fmt.Sprintf(`{"address":%q,"poll_interval":"48h"}`, bob), wantError: "cannot exceed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/v1/watch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantError)
		})
	}
}

func TestHandleWatch_ScheduleFailureRollsBack(t *testing.T) {
	ts := newTestServer(t)
	ts.scheduler.SetUpsertError(errors.New("temporal unavailable"))

	rec := ts.do(http.MethodPost, "/api/v1/watch", fmt.Sprintf(`{"address":%q}`, alice))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, err := ts.store.GetWatchedAddress(context.Background(), alice)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestHandleWatchedLifecycle(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/watch", fmt.Sprintf(`{"address":%q}`, alice)).Code)

	rec := ts.do(http.MethodGet, "/api/v1/watch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Addresses []watchResponse `json:"addresses"`
		Count     int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, alice, list.Addresses[0].Address)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/watch/"+alice, "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/watch/"+bob, "").Code)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/api/v1/watch/"+alice, "").Code)
	assert.False(t, ts.scheduler.ScheduleExists(alice))
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/v1/watch/"+alice, "").Code)
}

func TestHandleUnwatch_ScheduleFailureKeepsAddress(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/watch", fmt.Sprintf(`{"address":%q}`, alice)).Code)
	ts.scheduler.SetDeleteError(errors.New("temporal unavailable"))

	assert.Equal(t, http.StatusInternalServerError, ts.do(http.MethodDelete, "/api/v1/watch/"+alice, "").Code)
	_, err := ts.store.GetWatchedAddress(context.Background(), alice)
	assert.NoError(t, err)
}

func TestHandleLabels(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/api/v1/labels", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Labels map[string]classify.ProgramInfo `json:"labels"`
		Count  int                             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SYSTEM PROGRAM", resp.Labels[classify.SystemProgram].Name)
	assert.Equal(t, len(resp.Labels), resp.Count)
}

func TestMiddleware(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = ts.do(http.MethodOptions, "/api/v1/classify", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
