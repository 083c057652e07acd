// Package risk decides whether a new paper position may be opened.
package risk

import (
	"context"
	"fmt"

	"papertrader/internal/model"
)

// Guard is the admission check consulted before opening a trade.
//
// It is advisory: the answer can be stale by the time the caller acts on it.
// The execution engine repeats the check under its per-symbol lock, so a
// racing opener still receives model.ErrConflict.
type Guard struct {
	positions model.PositionStore
}

// NewGuard creates a Guard reading from the given position store.
func NewGuard(positions model.PositionStore) *Guard {
	return &Guard{positions: positions}
}

// CanOpen reports whether symbol has no OPEN position. Always reads the store.
func (g *Guard) CanOpen(ctx context.Context, symbol string) (bool, error) {
	pos, err := g.positions.GetOpenPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("risk: load position %s: %w", symbol, err)
	}
	return pos == nil, nil
}
