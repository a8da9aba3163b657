package engine

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/vitrader/backend/internal/database"
)

// newPostgresFixture runs against TEST_DATABASE_URL (URL form) inside a
// throwaway schema, so row locks are real and other packages' tests sharing
// the database are not disturbed.
func newPostgresFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "engine_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	conn, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = conn.Close(context.Background())
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	store, err := database.OpenPostgres(ctx, dsn+sep+"search_path="+schema)
	require.NoError(t, err)
	return newFixtureOn(t, store)
}

// run starts every fn at once and returns their errors.
func run(fns ...func() error) []error {
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

func TestPostgresConcurrentBuysAndSellsOfOnePair(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("10000")))
	_, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("5"))
	require.NoError(t, err)

	var fns []func() error
	for i := 0; i < 10; i++ {
		fns = append(fns,
			func() error {
				_, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.1"))
				return err
			},
			func() error {
				_, err := f.engine.ExecuteTrade(ctx, "trader", ActionSell, "bitcoin", d("0.1"))
				return err
			})
	}
	for _, err := range run(fns...) {
		assert.NoError(t, err)
	}

	assert.True(t, f.balance(t, f.quote.ID).Equal(d("5000")))
	assert.True(t, f.balance(t, f.btc.ID).Equal(d("5")))
	assert.EqualValues(t, 21, f.trades(t))
}

func TestPostgresConcurrentSellsCreateQuotePosition(t *testing.T) {
	f := newPostgresFixture(t)
	ctx := context.Background()
	eth, err := f.store.CreateAsset(ctx, "ETH", "ethereum")
	require.NoError(t, err)

	// spend the whole quote balance so the sells below must create it again
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("1000")))
	_, err = f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.997"))
	require.NoError(t, err)
	_, err = f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "ethereum", d("1"))
	require.NoError(t, err)
	require.True(t, f.balance(t, f.quote.ID).IsZero())

	var fns []func() error
	for i := 0; i < 5; i++ {
		fns = append(fns,
			func() error {
				_, err := f.engine.ExecuteTrade(ctx, "trader", ActionSell, "bitcoin", d("0.1"))
				return err
			},
			func() error {
				_, err := f.engine.ExecuteTrade(ctx, "trader", ActionSell, "ethereum", d("0.1"))
				return err
			})
	}
	for _, err := range run(fns...) {
		assert.NoError(t, err)
	}

	assert.True(t, f.balance(t, f.quote.ID).Equal(d("501.5")))
	assert.True(t, f.balance(t, f.btc.ID).Equal(d("0.497")))
	assert.True(t, f.balance(t, eth.ID).Equal(d("0.5")))
	assert.EqualValues(t, 12, f.trades(t))
}
