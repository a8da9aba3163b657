package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/models"
)

type key struct{ user, asset int64 }

// memTx is an in-memory Tx. affected overrides the row count of mutations when
// non-nil. A row in racing shows up as committed by another transaction the
// moment this one tries to insert the same position.
type memTx struct {
	positions map[key]decimal.Decimal
	racing    map[key]decimal.Decimal
	trades    []models.Trade
	affected  *int64
	failRead  error
}

func newMemTx() *memTx {
	return &memTx{positions: map[key]decimal.Decimal{}, racing: map[key]decimal.Decimal{}}
}

func (m *memTx) rows(n int64) int64 {
	if m.affected != nil {
		return *m.affected
	}
	return n
}

func (m *memTx) PositionForUpdate(_ context.Context, u, a int64) (decimal.Decimal, bool, error) {
	if m.failRead != nil {
		return decimal.Zero, false, m.failRead
	}
	v, ok := m.positions[key{u, a}]
	return v, ok, nil
}

func (m *memTx) InsertPosition(_ context.Context, u, a int64, amount decimal.Decimal) (int64, error) {
	k := key{u, a}
	if v, ok := m.racing[k]; ok {
		m.positions[k] = v
		delete(m.racing, k)
	}
	if _, ok := m.positions[k]; ok {
		return m.rows(0), nil
	}
	m.positions[k] = amount
	return m.rows(1), nil
}

func (m *memTx) UpdatePosition(_ context.Context, u, a int64, amount decimal.Decimal) (int64, error) {
	if _, ok := m.positions[key{u, a}]; !ok {
		return m.rows(0), nil
	}
	m.positions[key{u, a}] = amount
	return m.rows(1), nil
}

func (m *memTx) DeletePosition(_ context.Context, u, a int64) (int64, error) {
	if _, ok := m.positions[key{u, a}]; !ok {
		return m.rows(0), nil
	}
	delete(m.positions, key{u, a})
	return m.rows(1), nil
}

func (m *memTx) InsertTrade(_ context.Context, t *models.Trade) error {
	t.ID = int64(len(m.trades) + 1)
	m.trades = append(m.trades, *t)
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBalance(t *testing.T) {
	l := New(zap.NewNop())
	tx := newMemTx()
	ctx := context.Background()

	b, err := l.Balance(ctx, tx, 1, 1)
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	tx.positions[key{1, 1}] = d("12.5")
	b, err = l.Balance(ctx, tx, 1, 1)
	require.NoError(t, err)
	assert.True(t, b.Equal(d("12.5")))

	tx.failRead = errors.New("conn reset")
	_, err = l.Balance(ctx, tx, 1, 1)
	require.Error(t, err)
}

func TestCreditOrCreate(t *testing.T) {
	l := New(nil)
	tx := newMemTx()
	ctx := context.Background()

	require.NoError(t, l.CreditOrCreate(ctx, tx, 1, 2, d("0.5")))
	assert.True(t, tx.positions[key{1, 2}].Equal(d("0.5")))

	require.NoError(t, l.CreditOrCreate(ctx, tx, 1, 2, d("0.25")))
	assert.True(t, tx.positions[key{1, 2}].Equal(d("0.75")))

	err := l.CreditOrCreate(ctx, tx, 1, 2, d("0"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	err = l.CreditOrCreate(ctx, tx, 1, 2, d("-1"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.True(t, tx.positions[key{1, 2}].Equal(d("0.75")))
}

func TestCreditAfterLostInsertRace(t *testing.T) {
	l := New(nil)
	tx := newMemTx()
	tx.racing[key{1, 2}] = d("2")

	require.NoError(t, l.CreditOrCreate(context.Background(), tx, 1, 2, d("1.5")))
	assert.True(t, tx.positions[key{1, 2}].Equal(d("3.5")), "credit lands on the concurrently created row")
}

func TestCreditUnexpectedRowCount(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	tx := newMemTx()
	two := int64(2)
	tx.affected = &two
	err := l.CreditOrCreate(ctx, tx, 1, 2, d("1"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)

	tx = newMemTx()
	tx.positions[key{1, 2}] = d("1")
	zero := int64(0)
	tx.affected = &zero
	err = l.CreditOrCreate(ctx, tx, 1, 2, d("1"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

func TestDebitOrRemove(t *testing.T) {
	l := New(nil)
	ctx := context.Background()

	t.Run("partial debit keeps the row", func(t *testing.T) {
		tx := newMemTx()
		tx.positions[key{1, 2}] = d("10")
		require.NoError(t, l.DebitOrRemove(ctx, tx, 1, 2, d("3.3")))
		assert.True(t, tx.positions[key{1, 2}].Equal(d("6.7")))
	})

	t.Run("exact debit removes the row", func(t *testing.T) {
		tx := newMemTx()
		tx.positions[key{1, 2}] = d("10")
		require.NoError(t, l.DebitOrRemove(ctx, tx, 1, 2, d("10")))
		_, ok := tx.positions[key{1, 2}]
		assert.False(t, ok)
	})

	t.Run("overshoot removes the row", func(t *testing.T) {
		tx := newMemTx()
		tx.positions[key{1, 2}] = d("10")
		require.NoError(t, l.DebitOrRemove(ctx, tx, 1, 2, d("11")))
		_, ok := tx.positions[key{1, 2}]
		assert.False(t, ok)
	})

	t.Run("absent position", func(t *testing.T) {
		tx := newMemTx()
		err := l.DebitOrRemove(ctx, tx, 1, 2, d("1"))
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("unexpected row count", func(t *testing.T) {
		tx := newMemTx()
		tx.positions[key{1, 2}] = d("10")
		two := int64(2)
		tx.affected = &two
		err := l.DebitOrRemove(ctx, tx, 1, 2, d("1"))
		assert.ErrorIs(t, err, apperr.ErrPersistence)
	})
}
