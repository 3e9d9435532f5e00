package db

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// testDSN returns TEST_DATABASE_URL, or starts one Postgres container shared by
// every test in the package.
func testDSN(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("xray_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		containerDSN, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("Skipping database test: cannot start postgres container: %v", containerErr)
	}
	return containerDSN
}

// skipIfNoTestDB skips database tests in -short mode or when SKIP_DB_TESTS is set.
func skipIfNoTestDB(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}
}

// testStore wraps a Store with test cleanup functionality.
type testStore struct {
	*Store
	pool *pgxpool.Pool
}

// newTestStore connects, migrates and truncates. The pool is closed when the
// test ends.
func newTestStore(t *testing.T) *testStore {
	t.Helper()
	skipIfNoTestDB(t)

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, testDSN(t))
	require.NoError(t, err, "failed to connect to test database")
	require.NoError(t, pool.Ping(ctx), "failed to ping test database")
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, "TRUNCATE TABLE classified_transactions, watched_addresses")
	require.NoError(t, err, "failed to cleanup test database")

	return &testStore{Store: NewStore(pool), pool: pool}
}
