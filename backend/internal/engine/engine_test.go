package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/database"
	"github.com/user/vitrader/backend/internal/ledger"
	"github.com/user/vitrader/backend/internal/models"
)

type fixedPrices map[string]decimal.Decimal

func (f fixedPrices) Price(_ context.Context, asset string) (decimal.Decimal, error) {
	p, ok := f[asset]
	if !ok {
		return decimal.Zero, apperr.ErrCollaborator
	}
	return p, nil
}

type recorder struct {
	mu     sync.Mutex
	trades []*models.Trade
	err    error
}

func (r *recorder) PublishTrade(_ context.Context, t *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	return r.err
}

type fixture struct {
	store  *database.Store
	engine *Engine
	events *recorder
	user   *models.User
	btc    *models.Asset
	quote  *models.Asset
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	return newFixtureOn(t, store)
}

// newFixtureOn migrates store and seeds a trader with a bitcoin listing.
func newFixtureOn(t *testing.T, store *database.Store) *fixture {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))

	user, err := store.CreateUser(ctx, "trader", "hash", "trader@example.com")
	require.NoError(t, err)
	btc, err := store.CreateAsset(ctx, "BTC", "bitcoin")
	require.NoError(t, err)
	quote, err := store.GetAssetByName(ctx, "tether")
	require.NoError(t, err)

	rec := &recorder{}
	eng := New(store, fixedPrices{"bitcoin": d("1000"), "ethereum": d("3")}, rec, Options{
		QuoteAsset: "tether",
		DepositMin: d("100"),
		DepositMax: d("10000"),
	}, zap.NewNop())

	return &fixture{store: store, engine: eng, events: rec, user: user, btc: btc, quote: quote}
}

func (f *fixture) balance(t *testing.T, assetID int64) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetPosition(context.Background(), f.user.ID, assetID)
	require.NoError(t, err)
	return b
}

func (f *fixture) trades(t *testing.T) int64 {
	t.Helper()
	n, err := f.store.CountUserTrades(context.Background(), f.user.ID)
	require.NoError(t, err)
	return n
}

func TestBuyThenSellEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("1000")))

	trade, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.5"))
	require.NoError(t, err)
	assert.Positive(t, trade.ID)
	assert.Equal(t, f.btc.ID, trade.AssetBoughtID)
	assert.Equal(t, f.quote.ID, trade.AssetSoldID)
	assert.True(t, trade.AmountBought.Equal(d("0.5")))
	assert.True(t, trade.AmountSold.Equal(d("500")))

	assert.True(t, f.balance(t, f.quote.ID).Equal(d("500")))
	assert.True(t, f.balance(t, f.btc.ID).Equal(d("0.5")))
	assert.EqualValues(t, 1, f.trades(t))

	trade, err = f.engine.ExecuteTrade(ctx, "trader", ActionSell, "bitcoin", d("0.5"))
	require.NoError(t, err)
	assert.Equal(t, f.quote.ID, trade.AssetBoughtID)
	assert.True(t, trade.AmountBought.Equal(d("500")))
	assert.True(t, trade.AmountSold.Equal(d("0.5")))

	holdings, err := f.store.GetHoldings(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, holdings, 1, "the emptied bitcoin position is removed")
	assert.Equal(t, "tether", holdings[0].AssetName)
	assert.True(t, holdings[0].Amount.Equal(d("1000")))
	assert.EqualValues(t, 2, f.trades(t))
	assert.Len(t, f.events.trades, 2)
}

func TestExactDecimalConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("100")))

	e := New(f.store, fixedPrices{"bitcoin": d("33.333333333333333333")}, nil, f.engine.opts, zap.NewNop())
	_, err := e.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.3"))
	require.NoError(t, err)

	spent := d("0.3").Mul(d("33.333333333333333333"))
	assert.True(t, f.balance(t, f.quote.ID).Equal(d("100").Sub(spent)))
	assert.True(t, f.balance(t, f.btc.ID).Equal(d("0.3")))
}

func TestInsufficientBalanceChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("100")))

	_, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("1"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	_, err = f.engine.ExecuteTrade(ctx, "trader", ActionSell, "bitcoin", d("0.01"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	assert.True(t, f.balance(t, f.quote.ID).Equal(d("100")))
	assert.True(t, f.balance(t, f.btc.ID).IsZero())
	assert.Zero(t, f.trades(t))
	assert.Empty(t, f.events.trades)
}

func TestRejectedBeforeAnyMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		user   string
		action Action
		asset  string
		qty    string
		want   error
	}{
		{"zero quantity", "trader", ActionBuy, "bitcoin", "0", apperr.ErrValidation},
		{"negative quantity", "trader", ActionSell, "bitcoin", "-1", apperr.ErrValidation},
		{"bad action", "trader", Action("hold"), "bitcoin", "1", apperr.ErrValidation},
		{"quote against itself", "trader", ActionBuy, "tether", "1", apperr.ErrValidation},
		{"no price", "trader", ActionBuy, "dogecoin", "1", apperr.ErrCollaborator},
		{"unknown asset", "trader", ActionBuy, "ethereum", "1", apperr.ErrNotFound},
		{"unknown user", "ghost", ActionBuy, "bitcoin", "1", apperr.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.ExecuteTrade(ctx, tc.user, tc.action, tc.asset, d(tc.qty))
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Zero(t, f.trades(t))
}

// failingStore injects a failure into the ledger mutations of every transaction.
type failingStore struct {
	*database.Store
	failDebit bool
}

type failingTx struct {
	ledger.Tx
	failDebit bool
}

func (f failingTx) UpdatePosition(ctx context.Context, u, a int64, amount decimal.Decimal) (int64, error) {
	if f.failDebit {
		return 0, errors.New("disk full")
	}
	return f.Tx.UpdatePosition(ctx, u, a, amount)
}

func (f failingTx) DeletePosition(ctx context.Context, u, a int64) (int64, error) {
	if f.failDebit {
		return 0, errors.New("disk full")
	}
	return f.Tx.DeletePosition(ctx, u, a)
}

func (s failingStore) InTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return s.Store.InTx(ctx, func(tx ledger.Tx) error {
		return fn(failingTx{Tx: tx, failDebit: s.failDebit})
	})
}

func TestFailureMidTradeRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("1000")))

	broken := New(failingStore{Store: f.store, failDebit: true}, fixedPrices{"bitcoin": d("1000")}, f.events, f.engine.opts, zap.NewNop())
	_, err := broken.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.5"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	assert.True(t, f.balance(t, f.quote.ID).Equal(d("1000")))
	assert.True(t, f.balance(t, f.btc.ID).IsZero(), "credit is rolled back with the failed debit")
	assert.Zero(t, f.trades(t), "trade row is rolled back")
	assert.Empty(t, f.events.trades, "nothing is published for a rolled back trade")
}

func TestConcurrentBuysCannotOverspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("1000")))

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.2"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrInsufficientBalance):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, ok.Load())
	assert.EqualValues(t, 5, insufficient.Load())
	assert.True(t, f.balance(t, f.quote.ID).IsZero())
	assert.True(t, f.balance(t, f.btc.ID).Equal(d("1")))
	assert.EqualValues(t, 5, f.trades(t))
}

func TestPublishFailureDoesNotFailTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("1000")))
	f.events.err = errors.New("broker down")

	_, err := f.engine.ExecuteTrade(ctx, "trader", ActionBuy, "bitcoin", d("0.1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.trades(t))
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.Deposit(ctx, "trader", d("99.99")), apperr.ErrValidation)
	assert.ErrorIs(t, f.engine.Deposit(ctx, "trader", d("10000.01")), apperr.ErrValidation)
	assert.ErrorIs(t, f.engine.Deposit(ctx, "ghost", d("500")), apperr.ErrNotFound)

	require.NoError(t, f.engine.Deposit(ctx, "trader", d("100")))
	require.NoError(t, f.engine.Deposit(ctx, "trader", d("10000")))
	assert.True(t, f.balance(t, f.quote.ID).Equal(d("10100")))
	assert.Zero(t, f.trades(t))
}

func TestParsers(t *testing.T) {
	a, err := ParseAction(" SELL ")
	require.NoError(t, err)
	assert.Equal(t, ActionSell, a)
	_, err = ParseAction("short")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	q, err := ParseQuantity("0.000000001")
	require.NoError(t, err)
	assert.True(t, q.Equal(d("0.000000001")))
	_, err = ParseQuantity("1,5")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ParseQuantity("")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIDKeyedEntryPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.DepositFor(ctx, f.user.ID, d("1000")))
	assert.ErrorIs(t, f.engine.DepositFor(ctx, f.user.ID, d("1")), apperr.ErrValidation)
	assert.ErrorIs(t, f.engine.DepositFor(ctx, 9999, d("500")), apperr.ErrNotFound)

	trade, err := f.engine.ExecuteTradeFor(ctx, f.user.ID, ActionBuy, "bitcoin", d("0.25"))
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, trade.UserID)
	assert.True(t, f.balance(t, f.quote.ID).Equal(d("750")))

	_, err = f.engine.ExecuteTradeFor(ctx, 9999, ActionBuy, "bitcoin", d("0.25"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.engine.ExecuteTradeFor(ctx, f.user.ID, ActionBuy, "bitcoin", d("0"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCheckQuoteAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.engine.CheckQuoteAsset(ctx))

	opts := f.engine.opts
	opts.QuoteAsset = "usd-coin"
	e := New(f.store, fixedPrices{}, nil, opts, zap.NewNop())
	assert.ErrorIs(t, e.CheckQuoteAsset(ctx), apperr.ErrNotFound)
}
