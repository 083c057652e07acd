// Package indicator provides the rolling price window and the EMA/RSI
// calculations the strategy consumes.
//
// Both indicators are recomputed from the full window on every call rather
// than carried incrementally: the only state is the last Capacity prices, so
// a restarted engine converges back to identical values once the window
// refills.
package indicator

// Capacity is the maximum number of prices held by a Window.
const Capacity = 30

// Standard periods used by the engine.
const (
	FastEMAPeriod = 9
	SlowEMAPeriod = 21
	RSIPeriod     = 14
)

// Window is a bounded FIFO of recent prices, oldest first.
// Not safe for concurrent use; the scheduler serializes access.
type Window struct {
	prices []float64
	cap    int
}

// NewWindow creates an empty window holding at most Capacity prices.
func NewWindow() *Window {
	return &Window{
		prices: make([]float64, 0, Capacity+1),
		cap:    Capacity,
	}
}

// Push appends a price, evicting the oldest when the window overflows.
func (w *Window) Push(price float64) {
	w.prices = append(w.prices, price)
	if len(w.prices) > w.cap {
		copy(w.prices, w.prices[1:])
		w.prices = w.prices[:w.cap]
	}
}

// Len returns the number of prices held.
func (w *Window) Len() int { return len(w.prices) }

// Values returns a copy of the window, oldest first.
func (w *Window) Values() []float64 {
	cp := make([]float64, len(w.prices))
	copy(cp, w.prices)
	return cp
}

// EMA returns the exponential moving average over the whole window,
// seeded with the oldest price. Returns 0 for an empty window.
func (w *Window) EMA(period int) float64 {
	if len(w.prices) == 0 {
		return 0
	}
	k := 2.0 / float64(period+1)
	ema := w.prices[0]
	for _, p := range w.prices[1:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// RSI returns the relative strength index over the last period deltas.
// Returns 50 (neutral) until period+1 prices are available and 100 when
// the period contains no losses. Unchanged prices count as zero gain.
func (w *Window) RSI(period int) float64 {
	n := len(w.prices)
	if n < period+1 {
		return 50
	}
	var gains, losses float64
	for i := n - period; i < n; i++ {
		diff := w.prices[i] - w.prices[i-1]
		if diff >= 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		return 100
	}
	rs := gains / losses
	return 100 - (100 / (1 + rs))
}

// Snapshot is the set of indicator values derived from one window state.
type Snapshot struct {
	Price float64 `json:"price"`
	EMA9  float64 `json:"ema9"`
	EMA21 float64 `json:"ema21"`
	RSI   float64 `json:"rsi"`
}

// Observe pushes price and returns the indicators recomputed over the new window.
func (w *Window) Observe(price float64) Snapshot {
	w.Push(price)
	return Snapshot{
		Price: price,
		EMA9:  w.EMA(FastEMAPeriod),
		EMA21: w.EMA(SlowEMAPeriod),
		RSI:   w.RSI(RSIPeriod),
	}
}
