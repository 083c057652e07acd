// Package execution owns the paper-trade lifecycle: admission, opening,
// TP/SL monitoring and closing.
//
// Every mutation for a symbol runs under that symbol's admission lock, so the
// scheduler's autonomous path and manual API requests cannot interleave a
// check-then-open for the same symbol.
package execution

import (
	"context"
	"fmt"
	"log"
	"sync"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

// Default simulated costs as a fraction of entry notional.
const (
	DefaultFeeRate      = 0.001
	DefaultSlippageRate = 0.0005
)

// Engine opens, monitors and closes paper trades.
type Engine struct {
	trades    model.TradeStore
	positions model.PositionStore
	pub       events.Publisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates an execution engine. pub may be nil.
func NewEngine(trades model.TradeStore, positions model.PositionStore, pub events.Publisher) *Engine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		trades:    trades,
		positions: positions,
		pub:       pub,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock acquires the admission lock for symbol and returns its release func.
func (e *Engine) lock(symbol string) func() {
	e.mu.Lock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// OpenPaperTrade opens a trade and its position.
// Returns model.ErrConflict if symbol already has an OPEN position.
func (e *Engine) OpenPaperTrade(ctx context.Context, order model.OrderRequest) (model.Trade, error) {
	if !order.Side.IsSide() {
		return model.Trade{}, fmt.Errorf("side %q: %w", order.Side, model.ErrInvalid)
	}
	if order.Qty <= 0 || order.EntryPrice <= 0 {
		return model.Trade{}, fmt.Errorf("qty=%v entry=%v must be positive: %w", order.Qty, order.EntryPrice, model.ErrInvalid)
	}

	unlock := e.lock(order.Symbol)
	defer unlock()

	existing, open, err := e.loadLocked(ctx, order.Symbol)
	if err != nil {
		return model.Trade{}, err
	}
	if existing != nil || len(open) > 0 {
		log.Printf("[ORDER ATTEMPT] skipped: open position already exists symbol=%s side=%s", order.Symbol, order.Side)
		return model.Trade{}, fmt.Errorf("position for %s already open: %w", order.Symbol, model.ErrConflict)
	}

	notional := order.EntryPrice * order.Qty
	if order.Fee == nil {
		order.Fee = model.Float(notional * DefaultFeeRate)
	}
	if order.Slippage == nil {
		order.Slippage = model.Float(notional * DefaultSlippageRate)
	}

	log.Printf("[ORDER ATTEMPT] opening paper trade symbol=%s side=%s qty=%v entry=%v",
		order.Symbol, order.Side, order.Qty, order.EntryPrice)

	trade, err := e.trades.OpenTrade(ctx, order)
	if err != nil {
		return model.Trade{}, fmt.Errorf("open trade: %w", err)
	}

	// The trade exists from here on; a missing position is rebuilt by the
	// next loadLocked for this symbol.
	log.Printf("[ORDER FILLED] paper trade opened id=%s symbol=%s side=%s", trade.ID, trade.Symbol, trade.Side)
	e.pub.Publish(ctx, events.New(events.TradeOpened, trade.Symbol, trade))
	if _, err := e.positions.UpsertPosition(ctx, order.Symbol, order.Side, order.Qty, order.EntryPrice); err != nil {
		log.Printf("[RECONCILE] trade id=%s opened without position: %v", trade.ID, err)
		return trade, fmt.Errorf("upsert position %s: %w", order.Symbol, err)
	}
	return trade, nil
}

// loadLocked reads the OPEN position and OPEN trades for symbol and repairs
// any mismatch left by an earlier failed write: a position with no OPEN
// trade is closed, and OPEN trades with no position get one rebuilt from
// the oldest of them. Caller holds the symbol lock.
func (e *Engine) loadLocked(ctx context.Context, symbol string) (*model.Position, []model.Trade, error) {
	open, err := e.trades.GetOpenTrades(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("load open trades %s: %w", symbol, err)
	}
	pos, err := e.positions.GetOpenPosition(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("load position %s: %w", symbol, err)
	}

	switch {
	case pos != nil && len(open) == 0:
		log.Printf("[RECONCILE] closing position %s with no open trade", symbol)
		if _, err := e.positions.ClosePosition(ctx, symbol); err != nil {
			return nil, nil, fmt.Errorf("reconcile position %s: %w", symbol, err)
		}
		pos = nil
	case pos == nil && len(open) > 0:
		t := open[0]
		log.Printf("[RECONCILE] rebuilding position %s from trade id=%s", symbol, t.ID)
		p, err := e.positions.UpsertPosition(ctx, symbol, t.Side, t.Qty, t.EntryPrice)
		if err != nil {
			return nil, nil, fmt.Errorf("reconcile position %s: %w", symbol, err)
		}
		pos = &p
	}
	return pos, open, nil
}

// exitReason returns the trigger hit by price, if any. TP wins when both
// levels are crossed at once.
func exitReason(t model.Trade, price float64) (model.CloseReason, bool) {
	if t.TPPrice != nil {
		tp := *t.TPPrice
		if (t.Side == model.ActionBuy && price >= tp) || (t.Side == model.ActionSell && price <= tp) {
			return model.CloseTP, true
		}
	}
	if t.SLPrice != nil {
		sl := *t.SLPrice
		if (t.Side == model.ActionBuy && price <= sl) || (t.Side == model.ActionSell && price >= sl) {
			return model.CloseSL, true
		}
	}
	return "", false
}

// MonitorAndClose closes every OPEN trade for symbol whose TP or SL is hit
// at currentPrice, oldest first. Returns the trades it closed.
func (e *Engine) MonitorAndClose(ctx context.Context, symbol string, currentPrice float64) ([]model.Trade, error) {
	unlock := e.lock(symbol)
	defer unlock()

	_, open, err := e.loadLocked(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var closed []model.Trade
	for _, t := range open {
		reason, hit := exitReason(t, currentPrice)
		if !hit {
			continue
		}
		if reason == model.CloseTP {
			log.Printf("[TP HIT] closing trade id=%s price=%v tp=%v", t.ID, currentPrice, *t.TPPrice)
		} else {
			log.Printf("[SL HIT] closing trade id=%s price=%v sl=%v", t.ID, currentPrice, *t.SLPrice)
		}
		ct, err := e.closeLocked(ctx, t, currentPrice, reason)
		if ct.ID != "" {
			closed = append(closed, ct)
		}
		if err != nil {
			return closed, err
		}
	}
	return closed, nil
}

// CloseTrade closes one trade by id at exitPrice (the manual path).
// Returns model.ErrNotFound for an unknown id. A trade that is already
// CLOSED is returned as-is and its symbol's position is left alone.
func (e *Engine) CloseTrade(ctx context.Context, id string, exitPrice float64, reason model.CloseReason) (model.Trade, error) {
	t, err := e.trades.GetTrade(ctx, id)
	if err != nil {
		return model.Trade{}, err
	}

	unlock := e.lock(t.Symbol)
	defer unlock()

	// Re-read under the lock: the monitor may have closed it meanwhile.
	t, err = e.trades.GetTrade(ctx, id)
	if err != nil {
		return model.Trade{}, err
	}
	if t.Status == model.TradeClosed {
		return t, nil
	}
	return e.closeLocked(ctx, t, exitPrice, reason)
}

// closeLocked closes trade t and its symbol's position. Caller holds the symbol lock.
// When only the position write fails the closed trade is still returned with
// the error; the stale position is closed by the next loadLocked.
func (e *Engine) closeLocked(ctx context.Context, t model.Trade, price float64, reason model.CloseReason) (model.Trade, error) {
	ct, err := e.trades.CloseTrade(ctx, t.ID, price, reason)
	if err != nil {
		return model.Trade{}, fmt.Errorf("close trade %s: %w", t.ID, err)
	}
	log.Printf("[ORDER CLOSED] closed by %s id=%s pnl=%.4f", reason, ct.ID, deref(ct.PnLAbs))
	e.pub.Publish(ctx, events.New(events.TradeClosed, ct.Symbol, ct))
	if _, err := e.positions.ClosePosition(ctx, t.Symbol); err != nil {
		log.Printf("[RECONCILE] position %s left open after closing trade id=%s: %v", t.Symbol, ct.ID, err)
		return ct, fmt.Errorf("close position %s: %w", t.Symbol, err)
	}
	return ct, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// TargetPrices converts percentage offsets into TP/SL levels for side at
// entry. A zero or negative percentage yields nil for that level.
func TargetPrices(side model.Action, entry, tpPct, slPct float64) (tp, sl *float64) {
	var tpp, slp *float64
	if tpPct > 0 {
		tpp = &tpPct
	}
	if slPct > 0 {
		slp = &slPct
	}
	return TargetLevels(side, entry, tpp, slp)
}

// TargetLevels is TargetPrices for optional percentages: every non-nil
// percentage is applied as given, including zero and negative values.
func TargetLevels(side model.Action, entry float64, tpPct, slPct *float64) (tp, sl *float64) {
	dir := 1.0
	if side == model.ActionSell {
		dir = -1.0
	}
	if tpPct != nil {
		pct := *tpPct
		tp = model.Float(entry * (1 + dir*pct/100))
	}
	if slPct != nil {
		pct := *slPct
		sl = model.Float(entry * (1 - dir*pct/100))
	}
	return tp, sl
}
