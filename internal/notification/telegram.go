package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/events"
	"papertrader/internal/model"
)

// TelegramNotifier sends alerts via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       telegramText(alert),
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent %s alert symbol=%s", eventName(alert), alert.Symbol)
	return nil
}

// telegramText renders alert as MarkdownV2. Trade events get a per-event
// layout; anything else falls back to title and message.
func telegramText(a Alert) string {
	if a.Trade != nil {
		switch a.Event {
		case events.TradeOpened:
			return openedText(a.Trade)
		case events.TradeClosed:
			return closedText(a.Trade)
		}
	}

	emoji := "ℹ️"
	switch a.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}
	title := a.Title
	if a.Symbol != "" {
		title = "[" + a.Symbol + "] " + title
	}
	return fmt.Sprintf("%s *%s*\n\n%s", emoji, escapeMarkdown(title), escapeMarkdown(a.Message))
}

func openedText(t *model.Trade) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🟢 *%s*\n\n", escapeMarkdown(fmt.Sprintf("Opened %s %s", t.Side, t.Symbol)))
	field(&b, "Qty", num(t.Qty))
	field(&b, "Entry", num(t.EntryPrice))
	if t.TPPrice != nil {
		field(&b, "TP", num(*t.TPPrice))
	}
	if t.SLPrice != nil {
		field(&b, "SL", num(*t.SLPrice))
	}
	field(&b, "Trade", t.ID)
	return strings.TrimSuffix(b.String(), "\n")
}

func closedText(t *model.Trade) string {
	emoji := "⏹"
	switch t.CloseReason {
	case model.CloseTP:
		emoji = "✅"
	case model.CloseSL:
		emoji = "🛑"
	case model.CloseManual:
		emoji = "✋"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n\n", emoji, escapeMarkdown(fmt.Sprintf("Closed %s %s (%s)", t.Side, t.Symbol, t.CloseReason)))
	field(&b, "Qty", num(t.Qty))
	field(&b, "Entry", num(t.EntryPrice))
	if t.ExitPrice != nil {
		field(&b, "Exit", num(*t.ExitPrice))
	}
	if t.PnLAbs != nil {
		pnl := strconv.FormatFloat(*t.PnLAbs, 'f', 4, 64)
		if t.PnLPct != nil {
			pnl += " (" + strconv.FormatFloat(*t.PnLPct, 'f', 2, 64) + "%)"
		}
		field(&b, "PnL", pnl)
	}
	field(&b, "Trade", t.ID)
	return strings.TrimSuffix(b.String(), "\n")
}

func field(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "%s: `%s`\n", escapeMarkdown(name), escapeCode(value))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

// escapeCode escapes text inside a MarkdownV2 code span.
func escapeCode(s string) string {
	return strings.NewReplacer(`\`, `\\`, "`", "\\`").Replace(s)
}
