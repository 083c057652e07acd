package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papertrader.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore_DecisionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 123_000_000, time.UTC)
	d, err := s.RecordDecision(ctx, model.Decision{
		Symbol:       "ETHUSDC",
		Timeframe:    "1m",
		Action:       model.ActionBuy,
		Confidence:   0.91,
		Reasons:      []string{model.ReasonEMAUp, model.ReasonRSIStrength},
		FeaturesHash: "abc",
		ModelVersion: "ema-rsi-v1",
		TS:           ts,
	})
	require.NoError(t, err)
	require.NotEmpty(t, d.ID)

	ds, err := s.ListDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, d, ds[0])
	assert.True(t, ds[0].TS.Equal(ts))
}

func TestStore_EmptyReasonsStoredAsList(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	_, err := s.RecordDecision(ctx, model.Decision{Symbol: "A", Action: model.ActionHold})
	require.NoError(t, err)
	ds, err := s.ListDecisions(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, ds[0].Reasons)
	assert.Empty(t, ds[0].Reasons)
}

func TestStore_TradeLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	tr, err := s.OpenTrade(ctx, model.OrderRequest{
		Symbol: "ETHUSDC", Side: model.ActionBuy, Qty: 1, EntryPrice: 100,
		TPPrice: model.Float(110), Fee: model.Float(0.1), Slippage: model.Float(0.05),
		DecisionID: "d-1",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TradeOpen, tr.Status)
	assert.Nil(t, tr.SLPrice)

	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	first, err := s.CloseTrade(ctx, tr.ID, 111, model.CloseTP)
	require.NoError(t, err)
	assert.Equal(t, model.TradeClosed, first.Status)
	assert.Equal(t, model.CloseTP, first.CloseReason)
	assert.InDelta(t, 10.85, *first.PnLAbs, 1e-9)
	assert.InDelta(t, 10.85, *first.PnLPct, 1e-9)

	second, err := s.CloseTrade(ctx, tr.ID, 50, model.CloseSL)
	require.NoError(t, err)
	assert.Equal(t, first, second, "second close is a no-op")

	open, err := s.GetOpenTrades(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	_, err := s.GetTrade(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.CloseTrade(ctx, "missing", 1, model.CloseManual)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStore_GetOpenTradesOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	var ids []string
	for i := 0; i < 3; i++ {
		tr, err := s.OpenTrade(ctx, model.OrderRequest{Symbol: "A", Side: model.ActionSell, Qty: 2, EntryPrice: float64(100 + i)})
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}
	_, err := s.OpenTrade(ctx, model.OrderRequest{Symbol: "B", Side: model.ActionBuy, Qty: 1, EntryPrice: 1})
	require.NoError(t, err)
	_, err = s.CloseTrade(ctx, ids[1], 100, model.CloseManual)
	require.NoError(t, err)

	open, err := s.GetOpenTrades(ctx, "A")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, ids[0], open[0].ID)
	assert.Equal(t, ids[2], open[1].ID)
	assert.Zero(t, open[0].Fee, "costs default to zero at the store")

	all, err := s.GetOpenTrades(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_PositionLifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)

	p, err := s.GetOpenPosition(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.Nil(t, p)

	created, err := s.UpsertPosition(ctx, "ETHUSDC", model.ActionBuy, 1, 100)
	require.NoError(t, err)
	updated, err := s.UpsertPosition(ctx, "ETHUSDC", model.ActionSell, 2, 105)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "upsert must reuse the open row")

	p, err = s.GetOpenPosition(ctx, "ETHUSDC")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.ActionSell, p.Side)
	assert.Equal(t, 2.0, p.Qty)
	assert.Equal(t, 105.0, p.AvgEntry)

	closed, err := s.ClosePosition(ctx, "ETHUSDC")
	require.NoError(t, err)
	require.NotNil(t, closed)
	assert.Equal(t, model.PositionClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	again, err := s.ClosePosition(ctx, "ETHUSDC")
	require.NoError(t, err)
	assert.Nil(t, again)

	reopened, err := s.UpsertPosition(ctx, "ETHUSDC", model.ActionBuy, 1, 99)
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, reopened.ID, "a closed row is never reused")
}

func TestStore_OneOpenPositionPerSymbolEnforced(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	_, err := s.UpsertPosition(ctx, "ETHUSDC", model.ActionBuy, 1, 100)
	require.NoError(t, err)

	_, err = s.DB().ExecContext(ctx,
		`INSERT INTO positions (id, symbol, side, qty, avg_entry, status, opened_at) VALUES ('x', 'ETHUSDC', 'BUY', 1, 1, 'OPEN', 0)`)
	assert.Error(t, err, "partial unique index must reject a second OPEN row")
}

func TestStore_ListTradesNewestFirstAndClamped(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t)
	for i := 0; i < 4; i++ {
		_, err := s.OpenTrade(ctx, model.OrderRequest{Symbol: "A", Side: model.ActionBuy, Qty: 1, EntryPrice: float64(10 + i)})
		require.NoError(t, err)
	}
	ts, err := s.ListTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, 13.0, ts[0].EntryPrice)
	assert.Equal(t, 12.0, ts[1].EntryPrice)

	ts, err = s.ListTrades(ctx, -5)
	require.NoError(t, err)
	assert.Len(t, ts, 1)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "papertrader.db")
	s, err := Open(path)
	require.NoError(t, err)
	tr, err := s.OpenTrade(ctx, model.OrderRequest{Symbol: "A", Side: model.ActionBuy, Qty: 1, EntryPrice: 10})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))
	got, err := s.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}
