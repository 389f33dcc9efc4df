package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to one chat through the Bot API
// sendMessage method, formatted as MarkdownV2.
type TelegramNotifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

func NewTelegramNotifier(token, chatID string, log *slog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPI,
		client:  newHTTPClient(),
		log:     log.With("component", "telegram"),
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// telegramReply is the Bot API envelope. An empty body is treated as ok.
type telegramReply struct {
	OK          *bool  `json:"ok"`
	Description string `json:"description"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	url := strings.TrimRight(t.baseURL, "/") + "/bot" + t.token + "/sendMessage"
	body, err := postJSON(ctx, t.client, url, telegramMessage{
		ChatID:    t.chatID,
		Text:      telegramText(alert),
		ParseMode: "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	var reply telegramReply
	if len(body) > 0 && json.Unmarshal(body, &reply) == nil && reply.OK != nil && !*reply.OK {
		return fmt.Errorf("telegram: %s", reply.Description)
	}
	t.log.DebugContext(ctx, "delivered", "alert_id", alert.ID, "chat", t.chatID)
	return nil
}

func levelMark(l AlertLevel) string {
	switch l {
	case AlertWarning:
		return "⚠️"
	case AlertCritical:
		return "🚨"
	}
	return "ℹ️"
}

// telegramText renders an alert. Signal alerts get one line per field.
func telegramText(alert Alert) string {
	s := alert.Signal
	if s == nil {
		return fmt.Sprintf("%s *%s*\n\n%s", levelMark(alert.Level), escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
	}

	mark := "🟢"
	if s.Action == strategy.ActionSell {
		mark = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s %s*\n\n", mark, escapeMarkdown(s.Ticker), s.Action)
	fmt.Fprintf(&b, "price: `%s`\n", escapeMarkdown(fmt.Sprintf("%.2f", s.Price)))
	fmt.Fprintf(&b, "bar: %s\n", escapeMarkdown(s.TS.UTC().Format(time.RFC3339)))
	fmt.Fprintf(&b, "strategy: %s", escapeMarkdown(s.Strategy))
	if s.Reason != "" {
		fmt.Fprintf(&b, "\n_%s_", escapeMarkdown(s.Reason))
	}
	return b.String()
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
