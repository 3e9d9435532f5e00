package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/metrics"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Watched address statuses.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithMetrics records query durations on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// ClassifiedTransaction is a canonical transaction as seen by one viewer.
// Viewer is "" for transactions classified without a perspective.
type ClassifiedTransaction struct {
	Viewer      string
	Transaction classify.Transaction
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WatchedAddress is an address whose history is polled on a schedule.
type WatchedAddress struct {
	Address       string
	PollInterval  time.Duration
	LastSignature *string
	LastPollTime  *time.Time
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UpsertWatchedAddressParams contains the parameters for watching an address.
type UpsertWatchedAddressParams struct {
	Address      string
	PollInterval time.Duration
	Status       string
}

// ListTransactionsByViewerParams contains pagination parameters.
type ListTransactionsByViewerParams struct {
	Viewer string
	Limit  int32
	Offset int32
}

const upsertTransactionSQL = `
	INSERT INTO classified_transactions (
		signature, viewer, type, custom_type, source, primary_user, fee, block_time, actions, accounts
	) VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9, $10)
	ON CONFLICT (signature, viewer) DO UPDATE SET
		type = EXCLUDED.type,
		custom_type = EXCLUDED.custom_type,
		source = EXCLUDED.source,
		primary_user = EXCLUDED.primary_user,
		fee = EXCLUDED.fee,
		block_time = EXCLUDED.block_time,
		actions = EXCLUDED.actions,
		accounts = EXCLUDED.accounts,
		updated_at = NOW()
`

const selectTransactionColumns = `
	signature, viewer, type, custom_type, source, primary_user, fee::text, block_time,
	actions, accounts, created_at, updated_at
`

// UpsertTransaction stores tx for viewer, replacing an earlier classification of
// the same signature and viewer.
func (s *Store) UpsertTransaction(ctx context.Context, viewer string, tx classify.Transaction) error {
	start := time.Now()
	args, err := transactionArgs(viewer, tx)
	if err == nil {
		_, err = s.pool.Exec(ctx, upsertTransactionSQL, args...)
	}
	s.observe("upsert", "classified_transactions", start, err)
	if err != nil {
		return fmt.Errorf("upsert transaction %s: %w", tx.Signature, err)
	}
	return nil
}

// UpsertTransactions stores a batch atomically.
func (s *Store) UpsertTransactions(ctx context.Context, viewer string, txs []classify.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	start := time.Now()
	err := s.upsertBatch(ctx, viewer, txs)
	s.observe("upsert_batch", "classified_transactions", start, err)
	return err
}

func (s *Store) upsertBatch(ctx context.Context, viewer string, txs []classify.Transaction) error {
	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbtx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tx := range txs {
		args, err := transactionArgs(viewer, tx)
		if err != nil {
			return fmt.Errorf("encode transaction %s: %w", tx.Signature, err)
		}
		batch.Queue(upsertTransactionSQL, args...)
	}
	if err := dbtx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert transactions: %w", err)
	}
	return dbtx.Commit(ctx)
}

// GetTransaction retrieves a stored classification by signature and viewer.
func (s *Store) GetTransaction(ctx context.Context, signature, viewer string) (*ClassifiedTransaction, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectTransactionColumns+` FROM classified_transactions WHERE signature = $1 AND viewer = $2`,
		signature, viewer,
	)
	ct, err := scanTransaction(row)
	s.observe("get", "classified_transactions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", signature, err)
	}
	return ct, nil
}

// ListTransactionsByViewer returns stored transactions, newest first.
func (s *Store) ListTransactionsByViewer(ctx context.Context, params ListTransactionsByViewerParams) ([]*ClassifiedTransaction, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectTransactionColumns+` FROM classified_transactions
		WHERE viewer = $1
		ORDER BY block_time DESC, signature DESC
		LIMIT $2 OFFSET $3`,
		params.Viewer, params.Limit, params.Offset,
	)
	if err != nil {
		s.observe("list", "classified_transactions", start, err)
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*ClassifiedTransaction
	for rows.Next() {
		ct, err := scanTransaction(rows)
		if err != nil {
			s.observe("list", "classified_transactions", start, err)
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, ct)
	}
	err = rows.Err()
	s.observe("list", "classified_transactions", start, err)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// CountTransactionsByViewer returns the number of stored transactions for viewer.
func (s *Store) CountTransactionsByViewer(ctx context.Context, viewer string) (int64, error) {
	start := time.Now()
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM classified_transactions WHERE viewer = $1`, viewer,
	).Scan(&count)
	s.observe("count", "classified_transactions", start, err)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// UpsertWatchedAddress starts watching an address or updates its settings. The
// cursor of an existing row is kept.
func (s *Store) UpsertWatchedAddress(ctx context.Context, params UpsertWatchedAddressParams) (*WatchedAddress, error) {
	status := params.Status
	if status == "" {
		status = StatusActive
	}

	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO watched_addresses (address, poll_interval, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
			poll_interval = EXCLUDED.poll_interval,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING `+watchedColumns,
		params.Address, pgIntervalFromDuration(params.PollInterval), status,
	)
	w, err := scanWatchedAddress(row)
	s.observe("upsert", "watched_addresses", start, err)
	if err != nil {
		return nil, fmt.Errorf("upsert watched address %s: %w", params.Address, err)
	}
	return w, nil
}

// GetWatchedAddress retrieves a watched address.
func (s *Store) GetWatchedAddress(ctx context.Context, address string) (*WatchedAddress, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx,
		`SELECT `+watchedColumns+` FROM watched_addresses WHERE address = $1`, address,
	)
	w, err := scanWatchedAddress(row)
	s.observe("get", "watched_addresses", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get watched address %s: %w", address, err)
	}
	return w, nil
}

// ListWatchedAddresses returns all watched addresses ordered by creation time.
func (s *Store) ListWatchedAddresses(ctx context.Context) ([]*WatchedAddress, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx,
		`SELECT `+watchedColumns+` FROM watched_addresses ORDER BY created_at, address`,
	)
	if err != nil {
		s.observe("list", "watched_addresses", start, err)
		return nil, fmt.Errorf("list watched addresses: %w", err)
	}
	defer rows.Close()

	var out []*WatchedAddress
	for rows.Next() {
		w, err := scanWatchedAddress(rows)
		if err != nil {
			s.observe("list", "watched_addresses", start, err)
			return nil, fmt.Errorf("scan watched address: %w", err)
		}
		out = append(out, w)
	}
	err = rows.Err()
	s.observe("list", "watched_addresses", start, err)
	if err != nil {
		return nil, fmt.Errorf("list watched addresses: %w", err)
	}
	return out, nil
}

// UpdateWatchedAddressCursor records the newest processed signature and the poll
// time. A nil lastSignature keeps the current cursor.
func (s *Store) UpdateWatchedAddressCursor(ctx context.Context, address string, lastSignature *string, pollTime time.Time) (*WatchedAddress, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE watched_addresses SET
			last_signature = COALESCE($2, last_signature),
			last_poll_time = $3,
			updated_at = NOW()
		WHERE          address = $1
		RETURNING `+watchedColumns,
		address, pgtextFromStringPtr(lastSignature), pgtype.Timestamptz{Time: pollTime, Valid: true},
	)
	w, err := scanWatchedAddress(row)
	s.observe("update_cursor", "watched_addresses", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update cursor for %s: %w", address, err)
	}
	return w, nil
}

// DeleteWatchedAddress stops watching an address. Stored transactions are kept.
func (s *Store) DeleteWatchedAddress(ctx context.Context, address string) error {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM watched_addresses WHERE address = $1`, address)
	s.observe("delete", "watched_addresses", start, err)
	if err != nil {
		return fmt.Errorf("delete watched address %s: %w", address, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) observe(operation, table string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), err)
}

func transactionArgs(viewer string, tx classify.Transaction) ([]any, error) {
	actions := tx.Actions
	if actions == nil {
		actions = []classify.Action{}
	}
	accounts := tx.Accounts
	if accounts == nil {
		accounts = []classify.LedgerEntry{}
	}
	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("marshal actions: %w", err)
	}
	accountsJSON, err := json.Marshal(accounts)
	if err != nil {
		return nil, fmt.Errorf("marshal accounts: %w", err)
	}
	return []any{
		tx.Signature,
		viewer,
		string(tx.Type),
		string(tx.CustomType),
		tx.Source,
		tx.PrimaryUser,
		tx.Fee.String(),
		time.Unix(tx.Timestamp, 0).UTC(),
		actionsJSON,
		accountsJSON,
	}, nil
}

func scanTransaction(row pgx.Row) (*ClassifiedTransaction, error) {
	var (
		ct                      ClassifiedTransaction
		txType, customType      string
		fee                     string
		blockTime               time.Time
		actionsRaw, accountsRaw []byte
	)
	if err := row.Scan(
		&ct.Transaction.Signature,
		&ct.Viewer,
		&txType,
		&customType,
		&ct.Transaction.Source,
		&ct.Transaction.PrimaryUser,
		&fee,
		&blockTime,
		&actionsRaw,
		&accountsRaw,
		&ct.CreatedAt,
		&ct.UpdatedAt,
	); err != nil {
		return nil, err
	}

	ct.Transaction.Type = classify.TransactionType(txType)
	ct.Transaction.CustomType = classify.CustomType(customType)
	ct.Transaction.Timestamp = blockTime.Unix()

	parsedFee, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse fee %q: %w", fee, err)
	}
	ct.Transaction.Fee = parsedFee

	if err := json.Unmarshal(actionsRaw, &ct.Transaction.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if err := json.Unmarshal(accountsRaw, &ct.Transaction.Accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return &ct, nil
}

const watchedColumns = `address, poll_interval, last_signature, last_poll_time, status, created_at, updated_at`

func scanWatchedAddress(row pgx.Row) (*WatchedAddress, error) {
	var (
		w             WatchedAddress
		interval      pgtype.Interval
		lastSignature pgtype.Text
		lastPoll      pgtype.Timestamptz
	)
	if err := row.Scan(&w.Address, &interval, &lastSignature, &lastPoll, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.PollInterval = durationFromPgInterval(interval)
	w.LastSignature = stringPtrFromPgtext(lastSignature)
	w.LastPollTime = timePtrFromPgTimestamptz(lastPoll)
	return &w, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	return time.Duration(i.Microseconds)*time.Microsecond +
		time.Duration(i.Days)*24*time.Hour +
		time.Duration(i.Months)*30*24*time.Hour
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
