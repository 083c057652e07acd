package model

import "time"

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// CloseReason records why a trade was closed.
type CloseReason string

const (
	CloseTP     CloseReason = "TP"
	CloseSL     CloseReason = "SL"
	CloseManual CloseReason = "MANUAL"
	CloseSignal CloseReason = "SIGNAL"
)

// Trade is a simulated order. It is created OPEN and transitions to
// CLOSED exactly once.
type Trade struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        Action      `json:"side"`
	Qty         float64     `json:"qty"`
	EntryPrice  float64     `json:"entryPrice"`
	ExitPrice   *float64    `json:"exitPrice,omitempty"`
	TPPrice     *float64    `json:"tpPrice,omitempty"`
	SLPrice     *float64    `json:"slPrice,omitempty"`
	Fee         float64     `json:"fee"`
	Slippage    float64     `json:"slippage"`
	PnLAbs      *float64    `json:"pnlAbs,omitempty"`
	PnLPct      *float64    `json:"pnlPct,omitempty"`
	Status      TradeStatus `json:"status"`
	CloseReason CloseReason `json:"closeReason,omitempty"`
	DecisionID  string      `json:"decisionId,omitempty"`
	OpenedAt    time.Time   `json:"tsOpen"`
	ClosedAt    *time.Time  `json:"tsClose,omitempty"`
}

// Realize computes the PnL of closing the trade at exitPrice.
// Fee and slippage are charged in full against the directional move.
func (t *Trade) Realize(exitPrice float64) (pnlAbs, pnlPct float64) {
	move := exitPrice - t.EntryPrice
	if t.Side == ActionSell {
		move = t.EntryPrice - exitPrice
	}
	pnlAbs = move*t.Qty - t.Fee - t.Slippage
	if t.EntryPrice > 0 {
		pnlPct = pnlAbs / (t.EntryPrice * t.Qty) * 100
	}
	return pnlAbs, pnlPct
}

// Close transitions an OPEN trade to CLOSED in place. Closing a trade that
// is already CLOSED leaves it untouched and returns false.
func (t *Trade) Close(exitPrice float64, reason CloseReason, at time.Time) bool {
	if t.Status != TradeOpen {
		return false
	}
	pnlAbs, pnlPct := t.Realize(exitPrice)
	t.ExitPrice = Float(exitPrice)
	t.PnLAbs = Float(pnlAbs)
	t.PnLPct = Float(pnlPct)
	t.CloseReason = reason
	t.Status = TradeClosed
	t.ClosedAt = &at
	return true
}
