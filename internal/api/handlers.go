package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/events"
	"papertrader/internal/execution"
	"papertrader/internal/model"
	"papertrader/internal/settings"
	"papertrader/internal/strategy"
)

const (
	defaultTradeLimit    = 100
	defaultDecisionLimit = 200
	maxBodyBytes         = 1 << 20

	// ForcedFeaturesHash marks decisions recorded by the manual trade route.
	ForcedFeaturesHash = "manual-force-trade"
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode body: %v: %w", err, model.ErrInvalid)
	}
	return nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("limit %q: %w", v, model.ErrInvalid)
	}
	return n, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	engineState := "stopped"
	if h.deps.Engine != nil && h.deps.Engine.Metrics().Running {
		engineState = "running"
	}
	body := map[string]any{
		"status":        "ok",
		"db":            "connected",
		"engine":        engineState,
		"uptimeSeconds": int64(time.Since(h.opts.StartedAt).Seconds()),
	}
	if err := h.deps.Journal.Ping(r.Context()); err != nil {
		log.Printf("[api] health: store ping failed: %v", err)
		body["status"] = "error"
		body["db"] = "disconnected"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

type statusResponse struct {
	Status              string    `json:"status"`
	EngineMode          string    `json:"engineMode"`
	Symbol              string    `json:"symbol"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	TestSignalMode      bool      `json:"testSignalMode"`
	AutoPaper           bool      `json:"autoPaper"`
	Metrics             any       `json:"metrics,omitempty"`
	Config              any       `json:"config,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.deps.Settings.Get()
	resp := statusResponse{
		Status:              "stopped",
		EngineMode:          h.opts.EngineMode,
		ConfidenceThreshold: s.ConfidenceThreshold,
		TestSignalMode:      s.TestSignalMode,
		AutoPaper:           s.AutoPaper,
		Config:              h.deps.Config,
		Timestamp:           time.Now().UTC(),
	}
	if h.deps.Engine != nil {
		m := h.deps.Engine.Metrics()
		resp.Symbol = h.deps.Engine.Symbol()
		resp.Metrics = m
		if m.Running {
			resp.Status = "running"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) trades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultTradeLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trades, err := h.deps.Journal.ListTrades(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handler) decisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultDecisionLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	decisions, err := h.deps.Journal.ListDecisions(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if decisions == nil {
		decisions = []model.Decision{}
	}
	writeJSON(w, http.StatusOK, decisions)
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settings.Update
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.deps.Settings.Apply(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Printf("[api] settings updated threshold=%.2f autoPaper=%v testSignalMode=%v",
		s.ConfidenceThreshold, s.AutoPaper, s.TestSignalMode)
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) testSignalMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.deps.Settings.Apply(r.Context(), settings.Update{TestSignalMode: &req.Enabled})
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Printf("[api] test signal mode enabled=%v", s.TestSignalMode)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.TestSignalMode})
}

type forceTradeRequest struct {
	Symbol      string       `json:"symbol"`
	Side        model.Action `json:"side"`
	Qty         *float64     `json:"qty"`
	NotionalUSD *float64     `json:"notionalUsd"`
	TPPct       *float64     `json:"tpPct"`
	SLPct       *float64     `json:"slPct"`
	TPPrice     *float64     `json:"tpPrice"`
	SLPrice     *float64     `json:"slPrice"`
}

type forceTradeResponse struct {
	TradeID    string `json:"tradeId"`
	DecisionID string `json:"decisionId"`
}

// forcedQty derives the order size from an explicit qty or a USD notional,
// rounded to 8 decimal places. Zero means no size could be derived.
func forcedQty(req forceTradeRequest, price float64) float64 {
	var qty decimal.Decimal
	switch {
	case req.Qty != nil:
		qty = decimal.NewFromFloat(*req.Qty)
	case req.NotionalUSD != nil && price > 0:
		qty = decimal.NewFromFloat(*req.NotionalUSD).Div(decimal.NewFromFloat(price))
	}
	q := qty.Round(8).InexactFloat64()
	if q <= 0 {
		return 0
	}
	return q
}

// forcedTargets resolves TP/SL levels. Explicit prices win over percentages;
// a percentage that is present is applied even when zero or negative.
func forcedTargets(req forceTradeRequest, entry float64) (tp, sl *float64) {
	tp, sl = execution.TargetLevels(req.Side, entry, req.TPPct, req.SLPct)
	if req.TPPrice != nil {
		tp = model.Float(*req.TPPrice)
	}
	if req.SLPrice != nil {
		sl = model.Float(*req.SLPrice)
	}
	return tp, sl
}

func (h *handler) forceTrade(w http.ResponseWriter, r *http.Request) {
	var req forceTradeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Symbol == "" && h.deps.Engine != nil {
		req.Symbol = h.deps.Engine.Symbol()
	}
	if req.Symbol == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "symbol is required"})
		return
	}
	if !req.Side.IsSide() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "side must be BUY or SELL"})
		return
	}

	ctx := r.Context()
	entry, err := h.deps.Source.GetPrice(ctx, req.Symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}
	qty := forcedQty(req, entry)
	if qty <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "qty or notionalUsd must be provided"})
		return
	}
	tp, sl := forcedTargets(req, entry)

	decision, err := h.deps.Trades.RecordDecision(ctx, model.Decision{
		Symbol:       req.Symbol,
		Timeframe:    strategy.Timeframe,
		Action:       req.Side,
		Confidence:   1,
		Reasons:      []string{model.ReasonForcedManual},
		FeaturesHash: ForcedFeaturesHash,
		ModelVersion: strategy.ManualModelVersion,
		TS:           time.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.deps.Publisher.Publish(ctx, events.New(events.DecisionRecorded, decision.Symbol, decision))

	trade, err := h.deps.Execution.OpenPaperTrade(ctx, model.OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        qty,
		EntryPrice: entry,
		TPPrice:    tp,
		SLPrice:    sl,
		DecisionID: decision.ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Printf("[api] forced %s %s qty=%v entry=%.4f trade=%s", trade.Side, trade.Symbol, trade.Qty, trade.EntryPrice, trade.ID)
	writeJSON(w, http.StatusOK, forceTradeResponse{TradeID: trade.ID, DecisionID: decision.ID})
}

func (h *handler) closeTrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	t, err := h.deps.Trades.GetTrade(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t.Status == model.TradeClosed {
		writeJSON(w, http.StatusOK, t)
		return
	}
	price, err := h.deps.Source.GetPrice(ctx, t.Symbol)
	if err != nil {
		writeError(w, r, err)
		return
	}
	closed, err := h.deps.Execution.CloseTrade(ctx, id, price, model.CloseManual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.Printf("[api] manual close trade=%s exit=%.4f", closed.ID, price)
	writeJSON(w, http.StatusOK, closed)
}
