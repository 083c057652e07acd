// Package engine runs the evaluation loop: one tick per interval fetches a
// price, updates the indicator window, records a decision, closes exits and
// optionally opens a new paper trade.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/events"
	"papertrader/internal/execution"
	"papertrader/internal/indicator"
	"papertrader/internal/logger"
	"papertrader/internal/model"
	"papertrader/internal/settings"
	"papertrader/internal/strategy"
)

// Defaults for Config zero values.
const (
	DefaultInterval    = 60 * time.Second
	DefaultNotionalUSD = 50.0
	qtyDecimals        = 6
)

// Config is the static scheduler configuration.
type Config struct {
	Symbol      string
	Interval    time.Duration
	TickTimeout time.Duration // 0 = no per-tick deadline
	NotionalUSD float64
	AutoTPPct   float64 // 0 = no take-profit on scheduler trades
	AutoSLPct   float64 // 0 = no stop-loss on scheduler trades
}

// AdmissionGuard answers whether a new position may be opened.
type AdmissionGuard interface {
	CanOpen(ctx context.Context, symbol string) (bool, error)
}

// Recorder receives scheduler telemetry. *metrics.Metrics implements it.
type Recorder interface {
	ObserveTick(d time.Duration, err error)
	TickSkipped()
	Evaluated(action model.Action, price float64, at time.Time)
	TradeOpened()
	TradeClosed(reason model.CloseReason)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTick(time.Duration, error) {}
func (nopRecorder) TickSkipped() {}
func (nopRecorder) Evaluated(model.Action, float64, time.Time) {}
func (nopRecorder) TradeOpened() {}
func (nopRecorder) TradeClosed(model.CloseReason) {}

// Deps are the scheduler's collaborators. Publisher and Recorder may be nil.
type Deps struct {
	Source    model.MarketDataSource
	Trades    model.TradeStore
	Execution *execution.Engine
	Guard     AdmissionGuard
	Settings  *settings.Cell
	Publisher events.Publisher
	Recorder  Recorder
}

// Metrics is a point-in-time copy of the scheduler counters.
type Metrics struct {
	LastHeartbeatTS *int64 `json:"lastHeartbeatTs"` // unix ms, nil before the first evaluation
	Evaluations     int64  `json:"evaluations"`
	Signals         int64  `json:"signals"`
	TradesExecuted  int64  `json:"tradesExecuted"`
	SkippedTicks    int64  `json:"skippedTicks"`
	FailedTicks     int64  `json:"failedTicks"`
	Running         bool   `json:"running"`
}

// TickResult describes what one tick did.
type TickResult struct {
	Price    float64
	Snapshot indicator.Snapshot
	Decision model.Decision
	Closed   []model.Trade
	Opened   *model.Trade
}

// Scheduler owns the evaluation loop for one symbol.
type Scheduler struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	// tickMu serializes Tick; window is only touched under it.
	tickMu sync.Mutex
	window *indicator.Window

	busy atomic.Bool

	statsMu sync.Mutex
	stats   Metrics

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	gen     uint64 // bumped by every Start
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NotionalUSD <= 0 {
		cfg.NotionalUSD = DefaultNotionalUSD
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		now:    time.Now,
		window: indicator.NewWindow(),
	}
}

// Symbol returns the traded symbol.
func (s *Scheduler) Symbol() string { return s.cfg.Symbol }

// Start runs one tick immediately, then one per interval, until Stop or
// until ctx is cancelled. Calling Start on a running scheduler is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.running {
		return errors.New("engine: scheduler already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.gen++
	s.setRunning(true)

	s.wg.Add(1)
	go s.loop(loopCtx, s.gen)

	log.Printf("[engine] started symbol=%s interval=%s", s.cfg.Symbol, s.cfg.Interval)
	return nil
}

// Stop cancels the timer and waits for an in-flight tick to finish.
// The in-flight tick is not interrupted. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.lifeMu.Lock()
	if !s.running {
		s.lifeMu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.lifeMu.Unlock()

	s.wg.Wait()
	s.setRunning(false)
	log.Printf("[engine] stopped symbol=%s", s.cfg.Symbol)
}

func (s *Scheduler) loop(ctx context.Context, gen uint64) {
	defer s.wg.Done()

	s.fire(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.exited(gen)
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// exited marks the scheduler stopped when the loop of Start generation gen
// ends on its own, so a cancelled parent context leaves it restartable.
func (s *Scheduler) exited(gen uint64) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if !s.running || s.gen != gen {
		return
	}
	s.running = false
	s.cancel()
	s.setRunning(false)
	log.Printf("[engine] context cancelled, scheduler stopped symbol=%s", s.cfg.Symbol)
}

// fire starts a tick in the background unless one is still running.
func (s *Scheduler) fire(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.statsMu.Lock()
		s.stats.SkippedTicks++
		s.statsMu.Unlock()
		s.deps.Recorder.TickSkipped()
		log.Printf("[engine] previous tick still running, skipping fire symbol=%s", s.cfg.Symbol)
		return
	}

	// Stop must not interrupt a tick that already started.
	tickCtx := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.runTick(tickCtx)
	}()
}

func (s *Scheduler) runTick(ctx context.Context) {
	start := s.now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Symbol, start))
	if s.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TickTimeout)
		defer cancel()
	}

	err := s.safeTick(ctx)
	s.deps.Recorder.ObserveTick(time.Since(start), err)
	if err != nil {
		s.statsMu.Lock()
		s.stats.FailedTicks++
		s.statsMu.Unlock()
		log.Printf("[ENGINE_ERROR] tick failed symbol=%s: %v", s.cfg.Symbol, err)
		slog.Error("tick failed",
			append(logger.LogWithTrace(ctx), slog.String("symbol", s.cfg.Symbol), slog.String("error", err.Error()))...)
	}
}

// safeTick runs Tick and turns a panic into an error so the loop survives it.
func (s *Scheduler) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	_, err = s.Tick(ctx)
	return err
}

// Tick runs one evaluation cycle. Ticks never overlap: concurrent callers
// wait for each other. A failure aborts the remaining steps of this tick
// only; a position conflict while opening is logged and not an error.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	var res TickResult
	symbol := s.cfg.Symbol

	price, err := s.deps.Source.GetPrice(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("fetch price: %w", err)
	}
	res.Price = price

	snap := s.window.Observe(price)
	res.Snapshot = snap

	cur := s.deps.Settings.Get()
	verdict := strategy.Decide(strategy.Input{
		Price:          snap.Price,
		EMA9:           snap.EMA9,
		EMA21:          snap.EMA21,
		RSI:            snap.RSI,
		Threshold:      cur.ConfidenceThreshold,
		TestSignalMode: cur.TestSignalMode,
	})

	now := s.now()
	decision, err := s.deps.Trades.RecordDecision(ctx, model.Decision{
		Symbol:       symbol,
		Timeframe:    strategy.Timeframe,
		Action:       verdict.Action,
		Confidence:   verdict.Confidence,
		Reasons:      verdict.Reasons,
		FeaturesHash: strategy.FeaturesHash(snap),
		ModelVersion: strategy.ModelVersion,
		TS:           now,
	})
	if err != nil {
		return res, fmt.Errorf("record decision: %w", err)
	}
	res.Decision = decision

	s.statsMu.Lock()
	ms := now.UnixMilli()
	s.stats.LastHeartbeatTS = &ms
	s.stats.Evaluations++
	if verdict.Action.IsSide() {
		s.stats.Signals++
	}
	s.statsMu.Unlock()
	s.deps.Recorder.Evaluated(verdict.Action, price, now)

	log.Printf("[HEARTBEAT] symbol=%s price=%v ema9=%.4f ema21=%.4f rsi=%.2f decision=%s confidence=%.3f",
		symbol, price, snap.EMA9, snap.EMA21, snap.RSI, verdict.Action, verdict.Confidence)
	s.deps.Publisher.Publish(ctx, events.New(events.DecisionRecorded, symbol, decision))

	closed, err := s.deps.Execution.MonitorAndClose(ctx, symbol, price)
	for _, t := range closed {
		s.deps.Recorder.TradeClosed(t.CloseReason)
	}
	res.Closed = closed
	if err != nil {
		return res, fmt.Errorf("monitor exits: %w", err)
	}

	if !verdict.Action.IsSide() {
		return res, nil
	}
	if !cur.AutoPaper {
		log.Printf("[engine] auto paper disabled, not opening %s signal", verdict.Action)
		return res, nil
	}

	ok, err := s.deps.Guard.CanOpen(ctx, symbol)
	if err != nil {
		return res, fmt.Errorf("admission check: %w", err)
	}
	if !ok {
		return res, nil
	}

	qty := s.orderQty(price)
	if qty <= 0 {
		log.Printf("[engine] computed qty rounds to zero at price=%v, not opening", price)
		return res, nil
	}
	tp, sl := execution.TargetPrices(verdict.Action, price, s.cfg.AutoTPPct, s.cfg.AutoSLPct)
	trade, err := s.deps.Execution.OpenPaperTrade(ctx, model.OrderRequest{
		Symbol:     symbol,
		Side:       verdict.Action,
		Qty:        qty,
		EntryPrice: price,
		TPPrice:    tp,
		SLPrice:    sl,
		DecisionID: decision.ID,
	})
	if errors.Is(err, model.ErrConflict) {
		log.Printf("[engine] open skipped, position appeared concurrently symbol=%s", symbol)
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("open paper trade: %w", err)
	}

	s.statsMu.Lock()
	s.stats.TradesExecuted++
	s.statsMu.Unlock()
	s.deps.Recorder.TradeOpened()
	res.Opened = &trade
	return res, nil
}

// orderQty is NotionalUSD/price rounded half away from zero to 6 decimals.
func (s *Scheduler) orderQty(price float64) float64 {
	return decimal.NewFromFloat(s.cfg.NotionalUSD).
		Div(decimal.NewFromFloat(price)).
		Round(qtyDecimals).
		InexactFloat64()
}

// Metrics returns a snapshot of the scheduler counters.
func (s *Scheduler) Metrics() Metrics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	m := s.stats
	if m.LastHeartbeatTS != nil {
		ts := *m.LastHeartbeatTS
		m.LastHeartbeatTS = &ts
	}
	return m
}

func (s *Scheduler) setRunning(v bool) {
	s.statsMu.Lock()
	s.stats.Running = v
	s.statsMu.Unlock()
}
