package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recorder) Send(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func closedTrade(reason model.CloseReason, exit, pnl float64) model.Trade {
	return model.Trade{
		ID: "t-1", Symbol: "ETHUSDC", Side: model.ActionBuy, Qty: 1, EntryPrice: 100,
		ExitPrice: model.Float(exit), PnLAbs: model.Float(pnl), PnLPct: model.Float(pnl),
		Status: model.TradeClosed, CloseReason: reason,
	}
}

func TestAlertFor(t *testing.T) {
	a, ok := AlertFor(events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseTP, 111, 10.85)))
	require.True(t, ok)
	assert.Equal(t, AlertInfo, a.Level)
	assert.Contains(t, a.Title, "(TP)")
	assert.Contains(t, a.Message, "pnl 10.8500")
	assert.Equal(t, events.TradeClosed, a.Event)
	require.NotNil(t, a.Trade)
	assert.Equal(t, "t-1", a.Trade.ID)
	assert.Equal(t, model.CloseTP, a.Trade.CloseReason)

	tr := closedTrade(model.CloseSL, 95, -5.15)
	a, ok = AlertFor(events.New(events.TradeClosed, "ETHUSDC", &tr))
	require.True(t, ok)
	assert.Equal(t, AlertWarning, a.Level)

	open := model.Trade{Symbol: "ETHUSDC", Side: model.ActionSell, Qty: 2, EntryPrice: 100, TPPrice: model.Float(90)}
	a, ok = AlertFor(events.New(events.TradeOpened, "ETHUSDC", open))
	require.True(t, ok)
	assert.Equal(t, "Paper SELL ETHUSDC opened", a.Title)
	assert.Equal(t, "qty 2 @ 100 tp 90", a.Message)
	assert.Equal(t, events.TradeOpened, a.Event)
	require.NotNil(t, a.Trade)
	assert.Equal(t, 90.0, *a.Trade.TPPrice)

	_, ok = AlertFor(events.New(events.DecisionRecorded, "ETHUSDC", model.Decision{}))
	assert.False(t, ok)
}

func TestEventNotifier_DeliversAsync(t *testing.T) {
	rec := &recorder{err: errors.New("backend down")}
	en := NewEventNotifier(rec, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go en.Run(ctx)

	en.Publish(ctx, events.New(events.DecisionRecorded, "ETHUSDC", model.Decision{}))
	en.Publish(ctx, events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseTP, 111, 10.85)))
	en.Publish(ctx, events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseSL, 95, -5)))

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestEventNotifier_DropsWhenFull(t *testing.T) {
	rec := &recorder{}
	en := NewEventNotifier(rec, 1)
	e := events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseTP, 111, 1))
	assert.NoError(t, en.Publish(context.Background(), e))
	assert.NoError(t, en.Publish(context.Background(), e), "full queue drops, never blocks")
	assert.Len(t, en.queue, 1)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recorder{}
	bad := &recorder{err: errors.New("nope")}
	err := Multi{ok, bad, NewLogNotifier()}.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "nope")
	assert.Equal(t, 1, ok.len())
}

func TestWebhookNotifier_TradeClosedPayload(t *testing.T) {
	var got map[string]any
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		header = r.Header.Get("X-Papertrader-Event")
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	a, ok := AlertFor(events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseSL, 95, -5.15)))
	require.True(t, ok)
	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, n.Send(context.Background(), a))

	assert.Equal(t, "trade.closed", header)
	assert.Equal(t, "papertrader", got["source"])
	assert.Equal(t, "trade.closed", got["event"])
	assert.Equal(t, "WARNING", got["level"])
	assert.Equal(t, "ETHUSDC", got["symbol"])
	assert.Equal(t, "2024-03-01T12:00:00Z", got["ts"])

	tr, ok := got["trade"].(map[string]any)
	require.True(t, ok, "trade object in payload: %v", got)
	assert.Equal(t, "t-1", tr["id"])
	assert.Equal(t, "BUY", tr["side"])
	assert.Equal(t, 100.0, tr["entryPrice"])
	assert.Equal(t, 95.0, tr["exitPrice"])
	assert.Equal(t, -5.15, tr["pnlAbs"])
	assert.Equal(t, "SL", tr["closeReason"])
}

func TestWebhookNotifier_GenericAlertHasNoTrade(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertCritical, Title: "engine", Message: "m"}))
	assert.Equal(t, "CRITICAL", got["level"])
	assert.NotContains(t, got, "trade")
	assert.NotContains(t, got, "event")
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "unexpected status 502")
}

type telegramServer struct {
	*httptest.Server
	mu   sync.Mutex
	path string
	body map[string]any
}

func newTelegramServer(t *testing.T) *telegramServer {
	ts := &telegramServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		ts.path = r.URL.Path
		json.Unmarshal(raw, &ts.body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *telegramServer) text() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	s, _ := ts.body["text"].(string)
	return s
}

func TestTelegramNotifier_GenericAlert(t *testing.T) {
	srv := newTelegramServer(t)
	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertInfo, Title: "TP hit", Message: "pnl 10.85", Symbol: "ETHUSDC"}))

	text := srv.text()
	srv.mu.Lock()
	assert.Equal(t, "/botTOKEN/sendMessage", srv.path)
	assert.Equal(t, "42", srv.body["chat_id"])
	assert.Equal(t, "MarkdownV2", srv.body["parse_mode"])
	srv.mu.Unlock()
	assert.True(t, strings.Contains(text, `\[ETHUSDC\] TP hit`), text)
	assert.True(t, strings.Contains(text, `pnl 10\.85`), text)
}

func TestTelegramNotifier_TradeOpened(t *testing.T) {
	srv := newTelegramServer(t)
	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL

	open := model.Trade{ID: "t-9", Symbol: "ETHUSDC", Side: model.ActionSell, Qty: 0.5, EntryPrice: 2000, SLPrice: model.Float(2040)}
	a, ok := AlertFor(events.New(events.TradeOpened, "ETHUSDC", open))
	require.True(t, ok)
	require.NoError(t, n.Send(context.Background(), a))

	text := srv.text()
	assert.True(t, strings.HasPrefix(text, "🟢 *Opened SELL ETHUSDC*"), text)
	assert.Contains(t, text, "Qty: `0.5`")
	assert.Contains(t, text, "Entry: `2000`")
	assert.Contains(t, text, "SL: `2040`")
	assert.NotContains(t, text, "TP:")
	assert.Contains(t, text, "Trade: `t-9`")
}

func TestTelegramNotifier_TradeClosedByReason(t *testing.T) {
	srv := newTelegramServer(t)
	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	ctx := context.Background()

	a, _ := AlertFor(events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseTP, 111, 10.85)))
	require.NoError(t, n.Send(ctx, a))
	text := srv.text()
	assert.True(t, strings.HasPrefix(text, `✅ *Closed BUY ETHUSDC \(TP\)*`), text)
	assert.Contains(t, text, "Exit: `111`")
	assert.Contains(t, text, "PnL: `10.8500 (10.85%)`")

	a, _ = AlertFor(events.New(events.TradeClosed, "ETHUSDC", closedTrade(model.CloseSL, 95, -5.15)))
	require.NoError(t, n.Send(ctx, a))
	text = srv.text()
	assert.True(t, strings.HasPrefix(text, `🛑 *Closed BUY ETHUSDC \(SL\)*`), text)
	assert.Contains(t, text, "PnL: `-5.1500 (-5.15%)`")
}

func TestTelegramNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	n := NewTelegramNotifier("TOKEN", "42")
	n.apiBase = srv.URL
	assert.ErrorContains(t, n.Send(context.Background(), Alert{Title: "x"}), "unexpected status 401")
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\.c\!`, escapeMarkdown("a_b.c!"))
	assert.Equal(t, "a\\`b", escapeCode("a`b"))
}
