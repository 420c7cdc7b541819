package ledger

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const testDatabaseEnv = "BONDMATCH_TEST_DATABASE_URL"

func TestPostgresStore(t *testing.T) {
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := NewPostgresStore(pool, 5*time.Second)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	storeSuite(t, func(t *testing.T) Store {
		// TRUNCATE is not covered by the append-only rules
		_, err := pool.Exec(ctx, `TRUNCATE audit_records, clearing_results, ledger_events, quote_requests, auctions CASCADE`)
		require.NoError(t, err)
		return store
	})
}
