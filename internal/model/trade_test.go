package model

import (
	"math"
	"testing"
	"time"
)

func TestTrade_RealizeBuy(t *testing.T) {
	tr := Trade{Side: ActionBuy, Qty: 1, EntryPrice: 100, Fee: 0.1, Slippage: 0.05}
	abs, pct := tr.Realize(111)
	if math.Abs(abs-10.85) > 1e-9 {
		t.Errorf("pnlAbs: got %.6f, want 10.85", abs)
	}
	if math.Abs(pct-10.85) > 1e-9 {
		t.Errorf("pnlPct: got %.6f, want 10.85", pct)
	}
}

func TestTrade_RealizeSell(t *testing.T) {
	tr := Trade{Side: ActionSell, Qty: 2, EntryPrice: 100}
	abs, pct := tr.Realize(106)
	if abs != -12 {
		t.Errorf("pnlAbs: got %v, want -12", abs)
	}
	if pct != -6 {
		t.Errorf("pnlPct: got %v, want -6", pct)
	}
}

func TestTrade_RealizeZeroEntry(t *testing.T) {
	tr := Trade{Side: ActionBuy, Qty: 1, EntryPrice: 0}
	_, pct := tr.Realize(10)
	if pct != 0 {
		t.Errorf("pnlPct with zero entry: got %v, want 0", pct)
	}
}

func TestTrade_CloseOnce(t *testing.T) {
	tr := Trade{Side: ActionBuy, Qty: 1, EntryPrice: 100, Status: TradeOpen}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if !tr.Close(110, CloseTP, at) {
		t.Fatal("first close should transition")
	}
	if tr.Status != TradeClosed || tr.CloseReason != CloseTP {
		t.Fatalf("unexpected state after close: %+v", tr)
	}
	first := *tr.PnLAbs

	if tr.Close(50, CloseSL, at.Add(time.Minute)) {
		t.Fatal("second close must be a no-op")
	}
	if *tr.PnLAbs != first || tr.CloseReason != CloseTP || *tr.ExitPrice != 110 {
		t.Errorf("second close mutated trade: %+v", tr)
	}
	if !tr.ClosedAt.Equal(at) {
		t.Errorf("closedAt changed: %v", tr.ClosedAt)
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, max, want int }{
		{0, 500, 1},
		{-5, 500, 1},
		{100, 500, 100},
		{900, 500, 500},
	}
	for _, c := range cases {
		if got := ClampLimit(c.in, c.max); got != c.want {
			t.Errorf("ClampLimit(%d, %d) = %d, want %d", c.in, c.max, got, c.want)
		}
	}
}
