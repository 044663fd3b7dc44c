package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification carries everything needed to render one breach alert.
type Notification struct {
	ChatID       int64
	Asset        string
	CurrentPrice decimal.Decimal
	DiffPct      decimal.Decimal
	Direction    string
	Elapsed      time.Duration
}

// Notifier dispatches one alert. An error means the message was not confirmed
// sent; callers must not treat the firing as delivered.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API with the rendered alert text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": strconv.FormatInt(note.ChatID, 10),
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Int64("chat_id", note.ChatID).
		Str("asset", note.Asset).
		Str("direction", note.Direction).
		Msg("alert dispatched")
	return nil
}

// RenderMessage builds the user-facing alert text.
func RenderMessage(note Notification) string {
	sign := "📈"
	verb := "rose"
	if note.Direction == "down" {
		sign = "📉"
		verb = "fell"
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s %s %s%% over the last %s\n",
		sign,
		strings.ToUpper(note.Asset),
		verb,
		note.DiffPct.Abs().StringFixed(2),
		FormatElapsed(note.Elapsed),
	))
	builder.WriteString(fmt.Sprintf("Current price: $%s", note.CurrentPrice.String()))
	return builder.String()
}

// FormatElapsed renders a coarse human duration: whole minutes, rolling into
// hours once the span reaches sixty minutes.
func FormatElapsed(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	if mins < 60 {
		return plural(mins, "minute")
	}

	hours := mins / 60
	rest := mins % 60
	if rest == 0 {
		return plural(hours, "hour")
	}
	return plural(hours, "hour") + " " + plural(rest, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

var _ Notifier = (*TelegramNotifier)(nil)
