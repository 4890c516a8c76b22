// Package dbtest connects integration tests to the Postgres named by
// TEST_DB_DSN. Tests that use it are skipped when the variable is unset.
package dbtest

import (
	"context"
	"os"
	"testing"
	"time"

	"lv-tradecore/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// migrateLock serializes schema setup across test binaries sharing a database.
const migrateLock = 72431

func Pool(t testing.TB) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("set TEST_DB_DSN to run")
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()
	_, err = conn.Exec(ctx, "select pg_advisory_lock($1)", migrateLock)
	require.NoError(t, err)
	defer conn.Exec(ctx, "select pg_advisory_unlock($1)", migrateLock)
	require.NoError(t, db.Migrate(ctx, pool))
	return pool
}

// Asset inserts an active asset and returns its id. The symbol gets a
// random suffix so repeated runs do not collide.
func Asset(t testing.TB, pool *pgxpool.Pool, symbol string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(), "insert into assets (symbol) values ($1) returning id::text", symbol+"-"+uuid.NewString()[:8]).Scan(&id)
	require.NoError(t, err)
	return id
}

// User returns a user id that no earlier run has used.
func User(name string) string {
	return name + "-" + uuid.NewString()
}

// Now is the current time at the precision Postgres stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
