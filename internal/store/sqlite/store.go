// Package sqlite is the durable implementation of the trade, position and
// journal ports, backed by a single SQLite file in WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"papertrader/internal/model"
)

// Store implements model.TradeStore, model.PositionStore and model.Journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer: every statement and transaction goes through one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT    NOT NULL UNIQUE,
			symbol        TEXT    NOT NULL,
			timeframe     TEXT    NOT NULL,
			decision      TEXT    NOT NULL,
			confidence    REAL    NOT NULL,
			reasons       TEXT    NOT NULL,
			features_hash TEXT    NOT NULL,
			model_version TEXT    NOT NULL,
			ts            INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT    NOT NULL UNIQUE,
			symbol       TEXT    NOT NULL,
			side         TEXT    NOT NULL,
			qty          REAL    NOT NULL,
			entry_price  REAL    NOT NULL,
			exit_price   REAL,
			tp_price     REAL,
			sl_price     REAL,
			fee          REAL    NOT NULL DEFAULT 0,
			slippage     REAL    NOT NULL DEFAULT 0,
			pnl_abs      REAL,
			pnl_pct      REAL,
			status       TEXT    NOT NULL,
			close_reason TEXT,
			decision_id  TEXT,
			ts_open      INTEGER NOT NULL,
			ts_close     INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades(symbol, status);

		CREATE TABLE IF NOT EXISTS positions (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			id        TEXT    NOT NULL UNIQUE,
			symbol    TEXT    NOT NULL,
			side      TEXT    NOT NULL,
			qty       REAL    NOT NULL,
			avg_entry REAL    NOT NULL,
			status    TEXT    NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER
		);
		CREATE UNIQUE INDEX IF NOT EXISTS ux_positions_open ON positions(symbol) WHERE status = 'OPEN';
	`)
	return err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return model.Float(v.Float64)
}

// ── Decisions ──

func (s *Store) RecordDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	d.ID = uuid.New().String()
	if d.TS.IsZero() {
		d.TS = time.Now().UTC()
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return model.Decision{}, fmt.Errorf("marshal reasons: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, symbol, timeframe, decision, confidence, reasons, features_hash, model_version, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Symbol, d.Timeframe, string(d.Action), d.Confidence, string(reasons), d.FeaturesHash, d.ModelVersion, toMillis(d.TS))
	if err != nil {
		return model.Decision{}, fmt.Errorf("sqlite insert decision: %w", err)
	}
	d.TS = fromMillis(toMillis(d.TS))
	return d, nil
}

func (s *Store) ListDecisions(ctx context.Context, limit int) ([]model.Decision, error) {
	limit = model.ClampLimit(limit, model.MaxDecisionList)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, timeframe, decision, confidence, reasons, features_hash, model_version, ts
		FROM decisions
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query decisions: %w", err)
	}
	defer rows.Close()

	out := make([]model.Decision, 0, limit)
	for rows.Next() {
		var d model.Decision
		var action, reasons string
		var ts int64
		if err := rows.Scan(&d.ID, &d.Symbol, &d.Timeframe, &action, &d.Confidence, &reasons, &d.FeaturesHash, &d.ModelVersion, &ts); err != nil {
			return nil, fmt.Errorf("sqlite scan decision: %w", err)
		}
		d.Action = model.Action(action)
		d.TS = fromMillis(ts)
		if err := json.Unmarshal([]byte(reasons), &d.Reasons); err != nil {
			return nil, fmt.Errorf("decision %s reasons: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ── Trades ──

const tradeColumns = `id, symbol, side, qty, entry_price, exit_price, tp_price, sl_price, fee, slippage,
	pnl_abs, pnl_pct, status, close_reason, decision_id, ts_open, ts_close`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(r rowScanner) (model.Trade, error) {
	var (
		t                            model.Trade
		side, status                 string
		exit, tp, sl, pnlAbs, pnlPct sql.NullFloat64
		reason, decisionID           sql.NullString
		tsOpen                       int64
		tsClose                      sql.NullInt64
	)
	err := r.Scan(&t.ID, &t.Symbol, &side, &t.Qty, &t.EntryPrice, &exit, &tp, &sl, &t.Fee, &t.Slippage,
		&pnlAbs, &pnlPct, &status, &reason, &decisionID, &tsOpen, &tsClose)
	if err != nil {
		return model.Trade{}, err
	}
	t.Side = model.Action(side)
	t.Status = model.TradeStatus(status)
	t.ExitPrice = floatPtr(exit)
	t.TPPrice = floatPtr(tp)
	t.SLPrice = floatPtr(sl)
	t.PnLAbs = floatPtr(pnlAbs)
	t.PnLPct = floatPtr(pnlPct)
	t.CloseReason = model.CloseReason(reason.String)
	t.DecisionID = decisionID.String
	t.OpenedAt = fromMillis(tsOpen)
	if tsClose.Valid {
		c := fromMillis(tsClose.Int64)
		t.ClosedAt = &c
	}
	return t, nil
}

func (s *Store) OpenTrade(ctx context.Context, order model.OrderRequest) (model.Trade, error) {
	t := model.Trade{
		ID:         uuid.New().String(),
		Symbol:     order.Symbol,
		Side:       order.Side,
		Qty:        order.Qty,
		EntryPrice: order.EntryPrice,
		TPPrice:    order.TPPrice,
		SLPrice:    order.SLPrice,
		Status:     model.TradeOpen,
		DecisionID: order.DecisionID,
		OpenedAt:   fromMillis(toMillis(time.Now())),
	}
	if order.Fee != nil {
		t.Fee = *order.Fee
	}
	if order.Slippage != nil {
		t.Slippage = *order.Slippage
	}

	var decisionID sql.NullString
	if t.DecisionID != "" {
		decisionID = sql.NullString{String: t.DecisionID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, qty, entry_price, tp_price, sl_price, fee, slippage, status, decision_id, ts_open)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, string(t.Side), t.Qty, t.EntryPrice, nullFloat(t.TPPrice), nullFloat(t.SLPrice),
		t.Fee, t.Slippage, string(t.Status), decisionID, toMillis(t.OpenedAt))
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite insert trade: %w", err)
	}
	return t, nil
}

// CloseTrade closes the trade inside a transaction so the PnL is computed
// from the row as stored. An already CLOSED trade is returned unchanged.
func (s *Store) CloseTrade(ctx context.Context, id string, exitPrice float64, reason model.CloseReason) (model.Trade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTrade(tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite load trade %s: %w", id, err)
	}
	if !t.Close(exitPrice, reason, fromMillis(toMillis(time.Now()))) {
		return t, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE trades
		SET exit_price = ?, pnl_abs = ?, pnl_pct = ?, status = ?, close_reason = ?, ts_close = ?
		WHERE id = ? AND status = ?
	`, *t.ExitPrice, *t.PnLAbs, *t.PnLPct, string(t.Status), string(t.CloseReason), toMillis(*t.ClosedAt),
		t.ID, string(model.TradeOpen))
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite close trade %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Trade{}, fmt.Errorf("sqlite commit: %w", err)
	}
	return t, nil
}

func (s *Store) GetOpenTrades(ctx context.Context, symbol string) ([]model.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE status = ? AND (? = '' OR symbol = ?)
		ORDER BY seq ASC
		LIMIT ?
	`, string(model.TradeOpen), symbol, symbol, model.MaxOpenTrades)
	if err != nil {
		return nil, fmt.Errorf("sqlite query open trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (s *Store) GetTrade(ctx context.Context, id string) (model.Trade, error) {
	t, err := scanTrade(s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("trade %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite load trade %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTrades(ctx context.Context, limit int) ([]model.Trade, error) {
	limit = model.ClampLimit(limit, model.MaxTradeList)
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ── Positions ──

const positionColumns = `id, symbol, side, qty, avg_entry, status, opened_at, closed_at`

func scanPosition(r rowScanner) (model.Position, error) {
	var (
		p            model.Position
		side, status string
		openedAt     int64
		closedAt     sql.NullInt64
	)
	if err := r.Scan(&p.ID, &p.Symbol, &side, &p.Qty, &p.AvgEntry, &status, &openedAt, &closedAt); err != nil {
		return model.Position{}, err
	}
	p.Side = model.Action(side)
	p.Status = model.PositionStatus(status)
	p.OpenedAt = fromMillis(openedAt)
	if closedAt.Valid {
		c := fromMillis(closedAt.Int64)
		p.ClosedAt = &c
	}
	return p, nil
}

func (s *Store) GetOpenPosition(ctx context.Context, symbol string) (*model.Position, error) {
	p, err := scanPosition(s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status = ?`, symbol, string(model.PositionOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load position %s: %w", symbol, err)
	}
	return &p, nil
}

func (s *Store) UpsertPosition(ctx context.Context, symbol string, side model.Action, qty, avgEntry float64) (model.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Position{}, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPosition(tx.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status = ?`, symbol, string(model.PositionOpen)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		p = model.Position{
			ID:       uuid.New().String(),
			Symbol:   symbol,
			Side:     side,
			Qty:      qty,
			AvgEntry: avgEntry,
			Status:   model.PositionOpen,
			OpenedAt: fromMillis(toMillis(time.Now())),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO positions (id, symbol, side, qty, avg_entry, status, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.Symbol, string(p.Side), p.Qty, p.AvgEntry, string(p.Status), toMillis(p.OpenedAt))
	case err != nil:
		return model.Position{}, fmt.Errorf("sqlite load position %s: %w", symbol, err)
	default:
		p.Side, p.Qty, p.AvgEntry = side, qty, avgEntry
		_, err = tx.ExecContext(ctx, `UPDATE positions SET side = ?, qty = ?, avg_entry = ? WHERE id = ?`,
			string(side), qty, avgEntry, p.ID)
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("sqlite upsert position %s: %w", symbol, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Position{}, fmt.Errorf("sqlite commit: %w", err)
	}
	return p, nil
}

func (s *Store) ClosePosition(ctx context.Context, symbol string) (*model.Position, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	p, err := scanPosition(tx.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND status = ?`, symbol, string(model.PositionOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite load position %s: %w", symbol, err)
	}

	closedAt := fromMillis(toMillis(time.Now()))
	p.Status = model.PositionClosed
	p.ClosedAt = &closedAt
	if _, err := tx.ExecContext(ctx, `UPDATE positions SET status = ?, closed_at = ? WHERE id = ?`,
		string(p.Status), toMillis(closedAt), p.ID); err != nil {
		return nil, fmt.Errorf("sqlite close position %s: %w", symbol, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite commit: %w", err)
	}
	return &p, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
