package model

import "context"

// ── Collaborator Ports ──
// The engine core depends only on these interfaces. SQLite and in-memory
// implementations live under internal/store; market data under internal/marketdata.

// MarketDataSource fetches the latest traded price for a symbol.
type MarketDataSource interface {
	// GetPrice returns the current price. Fails with ErrUnavailable on a
	// non-success response or a malformed payload.
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// TradeStore persists decisions and trades.
type TradeStore interface {
	// RecordDecision stores a decision and returns it with its id assigned.
	RecordDecision(ctx context.Context, d Decision) (Decision, error)

	// OpenTrade stores a new OPEN trade. Fee and slippage default to 0 when nil.
	OpenTrade(ctx context.Context, order OrderRequest) (Trade, error)

	// CloseTrade closes a trade and computes its PnL.
	// Returns ErrNotFound for an unknown id; an already CLOSED trade is
	// returned unchanged.
	CloseTrade(ctx context.Context, id string, exitPrice float64, reason CloseReason) (Trade, error)

	// GetOpenTrades returns OPEN trades for a symbol, oldest first.
	GetOpenTrades(ctx context.Context, symbol string) ([]Trade, error)

	// GetTrade loads one trade by id. Returns ErrNotFound when absent.
	GetTrade(ctx context.Context, id string) (Trade, error)
}

// PositionStore persists per-symbol positions.
type PositionStore interface {
	// GetOpenPosition returns the OPEN position for symbol, or nil.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)

	// UpsertPosition updates the OPEN position for symbol or creates one.
	UpsertPosition(ctx context.Context, symbol string, side Action, qty, avgEntry float64) (Position, error)

	// ClosePosition marks the OPEN position for symbol CLOSED.
	// Returns nil when no position was open.
	ClosePosition(ctx context.Context, symbol string) (*Position, error)
}

// Journal is the read side used by the API and reporting tools.
type Journal interface {
	// ListTrades returns the most recent trades, newest first.
	ListTrades(ctx context.Context, limit int) ([]Trade, error)

	// ListDecisions returns the most recent decisions, newest first.
	ListDecisions(ctx context.Context, limit int) ([]Decision, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Limits applied to journal listings.
const (
	MaxTradeList    = 500
	MaxDecisionList = 1000
	MaxOpenTrades   = 100
)

// ClampLimit bounds a requested listing size to [1, max].
func ClampLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}
