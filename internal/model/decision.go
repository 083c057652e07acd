package model

import "time"

// Action is the outcome of a strategy evaluation and, for BUY/SELL, a trade side.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// IsSide reports whether the action can be used as a trade side.
func (a Action) IsSide() bool {
	return a == ActionBuy || a == ActionSell
}

// Reason tags attached to decisions.
const (
	ReasonEMAUp        = "EMA9_GT_EMA21"
	ReasonEMADown      = "EMA9_LT_EMA21"
	ReasonRSIStrength  = "RSI_STRENGTH"
	ReasonRSIWeakness  = "RSI_WEAKNESS"
	ReasonNoEdge       = "NO_EDGE"
	ReasonForcedManual = "FORCED_MANUAL"
)

// Decision is one persisted strategy evaluation. Immutable once recorded.
type Decision struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Timeframe    string    `json:"timeframe"`
	Action       Action    `json:"decision"`
	Confidence   float64   `json:"confidence"`
	Reasons      []string  `json:"reasons"`
	FeaturesHash string    `json:"featuresHash"`
	ModelVersion string    `json:"modelVersion"`
	TS           time.Time `json:"ts"`
}
