// Package strategy maps an indicator snapshot to a BUY/SELL/HOLD decision.
//
// The rule is a trend filter (EMA9 vs EMA21) confirmed by RSI momentum,
// gated by a confidence threshold. Decide is pure: it reads nothing but its
// input and always returns exactly one action.
package strategy

import (
	"math"

	"papertrader/internal/model"
)

const (
	// MaxConfidence caps every computed confidence.
	MaxConfidence = 0.95

	// TestSignalFloor is both the confidence floor and the threshold cap
	// applied in test-signal mode.
	TestSignalFloor = 0.45

	rsiBullish     = 52
	rsiBearish     = 48
	baseConfidence = 0.4
)

// Model identifiers recorded with each decision.
const (
	ModelVersion       = "ema-rsi-v1"
	ManualModelVersion = "manual-v1"
	Timeframe          = "1m"
)

// Input is everything the rule looks at.
type Input struct {
	Price          float64
	EMA9           float64
	EMA21          float64
	RSI            float64
	Threshold      float64
	TestSignalMode bool
}

// Verdict is the rule's output.
type Verdict struct {
	Action     model.Action `json:"decision"`
	Confidence float64      `json:"confidence"`
	Reasons    []string     `json:"reasons"`
}

// Decide applies the EMA/RSI threshold rule.
func Decide(in Input) Verdict {
	bullish := in.EMA9 > in.EMA21 && in.RSI > rsiBullish
	bearish := in.EMA9 < in.EMA21 && in.RSI < rsiBearish

	confidence := math.Min(MaxConfidence,
		math.Abs(in.EMA9-in.EMA21)/in.Price+math.Abs(in.RSI-50)/100+baseConfidence)
	threshold := in.Threshold
	if in.TestSignalMode {
		confidence = math.Max(confidence, TestSignalFloor)
		threshold = math.Min(threshold, TestSignalFloor)
	}

	switch {
	case bullish && confidence >= threshold:
		return Verdict{
			Action:     model.ActionBuy,
			Confidence: confidence,
			Reasons:    []string{model.ReasonEMAUp, model.ReasonRSIStrength},
		}
	case bearish && confidence >= threshold:
		return Verdict{
			Action:     model.ActionSell,
			Confidence: confidence,
			Reasons:    []string{model.ReasonEMADown, model.ReasonRSIWeakness},
		}
	default:
		return Verdict{
			Action:     model.ActionHold,
			Confidence: confidence,
			Reasons:    []string{model.ReasonNoEdge},
		}
	}
}
