package model

import "time"

// PositionStatus is the lifecycle state of a position row.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Position is the per-symbol exposure created by a paper trade.
// At most one OPEN position exists per symbol.
type Position struct {
	ID       string         `json:"id"`
	Symbol   string         `json:"symbol"`
	Side     Action         `json:"side"`
	Qty      float64        `json:"qty"`
	AvgEntry float64        `json:"avgEntry"`
	Status   PositionStatus `json:"status"`
	OpenedAt time.Time      `json:"openedAt"`
	ClosedAt *time.Time     `json:"closedAt,omitempty"`
}

// UnrealizedPnL returns the mark-to-market PnL at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == ActionSell {
		return (p.AvgEntry - price) * p.Qty
	}
	return (price - p.AvgEntry) * p.Qty
}
