// Package report summarizes the trade journal and renders it as text tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"

	"papertrader/internal/model"
)

// Summary aggregates a set of trades. PnL figures cover CLOSED trades only.
type Summary struct {
	Trades      int                       `json:"trades"`
	Open        int                       `json:"open"`
	Closed      int                       `json:"closed"`
	Wins        int                       `json:"wins"`
	Losses      int                       `json:"losses"`
	WinRate     float64                   `json:"winRate"` // percent of closed trades
	RealizedPnL float64                   `json:"realizedPnl"`
	AvgPnLPct   float64                   `json:"avgPnlPct"`
	ByReason    map[model.CloseReason]int `json:"byReason"`
}

// Summarize computes a Summary. A closed trade with zero PnL is neither a
// win nor a loss.
func Summarize(trades []model.Trade) Summary {
	s := Summary{Trades: len(trades), ByReason: make(map[model.CloseReason]int)}
	pnl := decimal.Zero
	pct := decimal.Zero

	for _, t := range trades {
		if t.Status != model.TradeClosed {
			s.Open++
			continue
		}
		s.Closed++
		s.ByReason[t.CloseReason]++
		if t.PnLAbs != nil {
			pnl = pnl.Add(decimal.NewFromFloat(*t.PnLAbs))
			switch {
			case *t.PnLAbs > 0:
				s.Wins++
			case *t.PnLAbs < 0:
				s.Losses++
			}
		}
		if t.PnLPct != nil {
			pct = pct.Add(decimal.NewFromFloat(*t.PnLPct))
		}
	}

	s.RealizedPnL = pnl.Round(8).InexactFloat64()
	if s.Closed > 0 {
		n := decimal.NewFromInt(int64(s.Closed))
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Div(n).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		s.AvgPnLPct = pct.Div(n).Round(4).InexactFloat64()
	}
	return s
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func optPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// TradesTable renders trades in the order given.
func TradesTable(trades []model.Trade) string {
	t := newTable("Trades")
	t.AppendHeader(table.Row{"Opened", "Symbol", "Side", "Qty", "Entry", "Exit", "TP", "SL", "Status", "Reason", "PnL", "PnL %"})
	for _, tr := range trades {
		reason := string(tr.CloseReason)
		if reason == "" {
			reason = "-"
		}
		pnlPct := "-"
		if tr.PnLPct != nil {
			pnlPct = fmt.Sprintf("%.2f", *tr.PnLPct)
		}
		t.AppendRow(table.Row{
			stamp(tr.OpenedAt), tr.Symbol, tr.Side, tr.Qty, fmt.Sprintf("%.4f", tr.EntryPrice),
			optPrice(tr.ExitPrice), optPrice(tr.TPPrice), optPrice(tr.SLPrice),
			tr.Status, reason, optPrice(tr.PnLAbs), pnlPct,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Qty", Align: text.AlignRight},
		{Name: "Entry", Align: text.AlignRight},
		{Name: "Exit", Align: text.AlignRight},
		{Name: "PnL", Align: text.AlignRight},
		{Name: "PnL %", Align: text.AlignRight},
	})
	return t.Render()
}

// DecisionsTable renders decisions in the order given.
func DecisionsTable(decisions []model.Decision) string {
	t := newTable("Decisions")
	t.AppendHeader(table.Row{"Time", "Symbol", "Decision", "Confidence", "Reasons", "Model"})
	for _, d := range decisions {
		t.AppendRow(table.Row{
			stamp(d.TS), d.Symbol, d.Action, fmt.Sprintf("%.3f", d.Confidence),
			strings.Join(d.Reasons, ","), d.ModelVersion,
		})
	}
	return t.Render()
}

// SummaryTable renders s as a two-column table.
func SummaryTable(s Summary) string {
	t := newTable("Summary")
	t.AppendRows([]table.Row{
		{"Trades", s.Trades},
		{"Open", s.Open},
		{"Closed", s.Closed},
		{"Wins", s.Wins},
		{"Losses", s.Losses},
		{"Win rate %", fmt.Sprintf("%.2f", s.WinRate)},
		{"Realized PnL", fmt.Sprintf("%.4f", s.RealizedPnL)},
		{"Avg PnL %", fmt.Sprintf("%.4f", s.AvgPnLPct)},
	})
	for _, r := range []model.CloseReason{model.CloseTP, model.CloseSL, model.CloseManual, model.CloseSignal} {
		if n := s.ByReason[r]; n > 0 {
			t.AppendRow(table.Row{"Closed by " + string(r), n})
		}
	}
	return t.Render()
}

// Write renders the summary, trades and decisions to w. decisions may be nil.
func Write(w io.Writer, trades []model.Trade, decisions []model.Decision) error {
	sections := []string{SummaryTable(Summarize(trades)), TradesTable(trades)}
	if decisions != nil {
		sections = append(sections, DecisionsTable(decisions))
	}
	_, err := io.WriteString(w, strings.Join(sections, "\n\n")+"\n")
	return err
}
