// Package memory is an in-process implementation of the trade, position and
// journal ports. It backs the engine when no SQLite path is configured and
// is the default fixture in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"papertrader/internal/model"
)

// Store keeps decisions, trades and positions in insertion order.
type Store struct {
	mu        sync.RWMutex
	decisions []model.Decision
	trades    []*model.Trade
	byID      map[string]*model.Trade
	positions []*model.Position
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]*model.Trade),
	}
}

func (s *Store) RecordDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = uuid.New().String()
	if d.TS.IsZero() {
		d.TS = time.Now().UTC()
	}
	d.Reasons = append([]string(nil), d.Reasons...)
	s.decisions = append(s.decisions, d)
	return d, nil
}

func (s *Store) OpenTrade(ctx context.Context, order model.OrderRequest) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &model.Trade{
		ID:         uuid.New().String(),
		Symbol:     order.Symbol,
		Side:       order.Side,
		Qty:        order.Qty,
		EntryPrice: order.EntryPrice,
		TPPrice:    order.TPPrice,
		SLPrice:    order.SLPrice,
		Status:     model.TradeOpen,
		DecisionID: order.DecisionID,
		OpenedAt:   time.Now().UTC(),
	}
	if order.Fee != nil {
		t.Fee = *order.Fee
	}
	if order.Slippage != nil {
		t.Slippage = *order.Slippage
	}
	s.trades = append(s.trades, t)
	s.byID[t.ID] = t
	return *t, nil
}

func (s *Store) CloseTrade(ctx context.Context, id string, exitPrice float64, reason model.CloseReason) (model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return model.Trade{}, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}
	t.Close(exitPrice, reason, time.Now().UTC())
	return *t, nil
}

func (s *Store) GetOpenTrades(ctx context.Context, symbol string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.Status != model.TradeOpen || (symbol != "" && t.Symbol != symbol) {
			continue
		}
		out = append(out, *t)
		if len(out) == model.MaxOpenTrades {
			break
		}
	}
	return out, nil
}

func (s *Store) GetTrade(ctx context.Context, id string) (model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.byID[id]
	if !ok {
		return model.Trade{}, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}
	return *t, nil
}

func (s *Store) GetOpenPosition(ctx context.Context, symbol string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p := s.openPosition(symbol); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) UpsertPosition(ctx context.Context, symbol string, side model.Action, qty, avgEntry float64) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.openPosition(symbol); p != nil {
		p.Side = side
		p.Qty = qty
		p.AvgEntry = avgEntry
		return *p, nil
	}
	p := &model.Position{
		ID:       uuid.New().String(),
		Symbol:   symbol,
		Side:     side,
		Qty:      qty,
		AvgEntry: avgEntry,
		Status:   model.PositionOpen,
		OpenedAt: time.Now().UTC(),
	}
	s.positions = append(s.positions, p)
	return *p, nil
}

func (s *Store) ClosePosition(ctx context.Context, symbol string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.openPosition(symbol)
	if p == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	p.Status = model.PositionClosed
	p.ClosedAt = &now
	cp := *p
	return &cp, nil
}

// openPosition must be called with s.mu held.
func (s *Store) openPosition(symbol string) *model.Position {
	for _, p := range s.positions {
		if p.Symbol == symbol && p.Status == model.PositionOpen {
			return p
		}
	}
	return nil
}

func (s *Store) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = model.ClampLimit(limit, model.MaxTradeList)
	out := make([]model.Trade, 0, limit)
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.trades[i])
	}
	return out, nil
}

func (s *Store) ListDecisions(ctx context.Context, limit int) ([]model.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = model.ClampLimit(limit, model.MaxDecisionList)
	out := make([]model.Decision, 0, limit)
	for i := len(s.decisions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// Positions returns a snapshot of every position row, oldest first.
func (s *Store) Positions() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, len(s.positions))
	for i, p := range s.positions {
		out[i] = *p
	}
	return out
}
