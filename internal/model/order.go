package model

// OrderRequest describes a paper trade to open.
// Optional fields are nil when not supplied by the caller.
type OrderRequest struct {
	Symbol     string   `json:"symbol"`
	Side       Action   `json:"side"` // BUY or SELL
	Qty        float64  `json:"qty"`
	EntryPrice float64  `json:"entryPrice"`
	TPPrice    *float64 `json:"tpPrice,omitempty"`
	SLPrice    *float64 `json:"slPrice,omitempty"`
	Fee        *float64 `json:"fee,omitempty"`
	Slippage   *float64 `json:"slippage,omitempty"`
	DecisionID string   `json:"decisionId,omitempty"`
}

// Float returns a pointer to v, for populating optional order fields.
func Float(v float64) *float64 {
	return &v
}
