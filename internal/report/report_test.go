package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/model"
)

func closedTrade(side model.Action, entry, exit float64, reason model.CloseReason) model.Trade {
	t := model.Trade{
		ID:         "t-" + string(reason),
		Symbol:     "ETHUSDC",
		Side:       side,
		Qty:        1,
		EntryPrice: entry,
		Status:     model.TradeOpen,
		OpenedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	t.Close(exit, reason, t.OpenedAt.Add(time.Minute))
	return t
}

func TestSummarize(t *testing.T) {
	trades := []model.Trade{
		closedTrade(model.ActionBuy, 100, 110, model.CloseTP),  // +10, +10%
		closedTrade(model.ActionSell, 100, 105, model.CloseSL), // -5, -5%
		closedTrade(model.ActionBuy, 200, 200, model.CloseManual),
		{ID: "open", Symbol: "ETHUSDC", Side: model.ActionBuy, Qty: 1, EntryPrice: 100, Status: model.TradeOpen},
	}

	s := Summarize(trades)
	assert.Equal(t, 4, s.Trades)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 3, s.Closed)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.Equal(t, 33.33, s.WinRate)
	assert.Equal(t, 5.0, s.RealizedPnL)
	assert.Equal(t, 1.6667, s.AvgPnLPct)
	assert.Equal(t, 1, s.ByReason[model.CloseTP])
	assert.Equal(t, 1, s.ByReason[model.CloseSL])
	assert.Equal(t, 1, s.ByReason[model.CloseManual])
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Trades)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.AvgPnLPct)
}

func TestTables(t *testing.T) {
	trades := []model.Trade{closedTrade(model.ActionBuy, 100, 110, model.CloseTP)}
	decisions := []model.Decision{{
		Symbol: "ETHUSDC", Action: model.ActionBuy, Confidence: 0.7,
		Reasons: []string{model.ReasonEMAUp, model.ReasonRSIStrength}, ModelVersion: "ema-rsi-v1",
	}}

	out := TradesTable(trades)
	assert.Contains(t, out, "ETHUSDC")
	assert.Contains(t, out, "110.0000")
	assert.Contains(t, out, "CLOSED")

	out = DecisionsTable(decisions)
	assert.Contains(t, out, "EMA9_GT_EMA21,RSI_STRENGTH")
	assert.Contains(t, out, "0.700")

	out = SummaryTable(Summarize(trades))
	assert.Contains(t, out, "100.00")
	assert.Contains(t, out, "Closed by TP")
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []model.Trade{closedTrade(model.ActionBuy, 100, 90, model.CloseSL)}, nil))
	out := strings.ToUpper(buf.String())
	assert.Contains(t, out, "REALIZED PNL")
	assert.Contains(t, out, "-10.0000")
	assert.NotContains(t, out, "CONFIDENCE")
}
