package store

import (
	"context"
	"testing"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetCreatesDefault(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.NewFromInt(10000))

	p, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.Cash.Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, p.Items)

	all, err := m.ListPortfolios(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMemory_PutIsolatesCallerMaps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.NewFromInt(10000))

	p, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	p.Items["AAPL"] = model.PortfolioItem{Symbol: "AAPL", Shares: decimal.NewFromInt(1)}
	require.NoError(t, m.Put(ctx, p))

	// mutating the caller's copy after Put must not leak into the store
	p.Items["MSFT"] = model.PortfolioItem{Symbol: "MSFT", Shares: decimal.NewFromInt(1)}

	got, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	got.Items["TSLA"] = model.PortfolioItem{Symbol: "TSLA"}
	again, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, again.Items, 1)
}

func TestMemory_TransactionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.NewFromInt(10000))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, m.AppendTransaction(ctx, model.Transaction{
			ID: id, UserID: "u1", Timestamp: ts.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, m.AppendTransaction(ctx, model.Transaction{ID: "other", UserID: "u2"}))

	txs, err := m.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{txs[0].ID, txs[1].ID, txs[2].ID})
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(decimal.NewFromInt(10000))

	_, err := m.Get(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Put(ctx, model.UserPortfolio{UserID: "u1"}), context.Canceled)
}

func TestMemory_StaleWriteConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(decimal.NewFromInt(10000))

	first, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	second, err := m.Get(ctx, "u1")
	require.NoError(t, err)

	first.Cash = decimal.NewFromInt(9000)
	require.NoError(t, m.Commit(ctx, first, model.Transaction{ID: "t1", UserID: "u1"}))

	second.Cash = decimal.NewFromInt(8000)
	assert.ErrorIs(t, m.Commit(ctx, second, model.Transaction{ID: "t2", UserID: "u1"}), ConflictError)
	assert.ErrorIs(t, m.Put(ctx, second), ConflictError)

	got, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.Cash.Equal(decimal.NewFromInt(9000)))

	txs, err := m.ListTransactions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "t1", txs[0].ID)
}
