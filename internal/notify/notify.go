// Package notify delivers fired alert events to out-of-band channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"smartstock/internal/config"
	apperrors "smartstock/internal/errors"
	"smartstock/internal/logging"
	"smartstock/internal/models"
)

// DefaultWebexURL is the Webex messages endpoint.
const DefaultWebexURL = "https://webexapis.com/v1/messages"

// DefaultTelegramURL is the Telegram bot API root.
const DefaultTelegramURL = "https://api.telegram.org"

// AlertTitle heads every alert notification.
const AlertTitle = "🚨 Stock Alert"

// Notifier delivers alert events. Deliver never blocks on the network and
// never fails; delivery errors are logged.
type Notifier interface {
	Deliver(ctx context.Context, event models.AlertEvent)
	Enabled() bool
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Title     string
	Message   string
	Event     models.AlertEvent
	Timestamp time.Time
}

// Text returns the title and message as plain text.
func (n Notification) Text() string {
	return n.Title + "\n" + n.Message
}

// NewAlertNotification renders an alert event.
func NewAlertNotification(event models.AlertEvent) Notification {
	return Notification{
		Title: AlertTitle,
		Message: fmt.Sprintf("Rule ID: %d\nSymbol: %s\nTriggered at: %s\nPrice: %s\nDetails: %s",
			event.RuleID,
			event.Symbol,
			event.TriggeredAt.Format(time.RFC3339),
			decimal.NewFromFloat(event.Price).StringFixed(2),
			event.Message,
		),
		Event:     event,
		Timestamp: event.TriggeredAt,
	}
}

// New builds a MultiNotifier from config, or a NoOpNotifier when no channel
// is configured.
func New(cfg *config.NotificationConfig, logger zerolog.Logger) Notifier {
	mn := NewMultiNotifier(cfg, logger)
	if !mn.Enabled() {
		logger.Info().Msg("No notification channels configured")
		return NewNoOpNotifier()
	}
	return mn
}

// DeliveryStats counts channel sends.
type DeliveryStats struct {
	Dispatched int64 `json:"dispatched"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
}

// MultiNotifier sends each event to every enabled channel concurrently.
type MultiNotifier struct {
	channels []NotificationChannel
	timeout  time.Duration
	logger   zerolog.Logger
	mu       sync.RWMutex
	wg       conc.WaitGroup

	dispatched atomic.Int64
	delivered  atomic.Int64
	failed     atomic.Int64
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg *config.NotificationConfig, logger zerolog.Logger) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		timeout:  cfg.Timeout,
		logger:   logging.WithComponent(logger, "notify"),
	}
	if mn.timeout <= 0 {
		mn.timeout = 10 * time.Second
	}

	if cfg.Webex.BotToken != "" && cfg.Webex.RoomID != "" {
		mn.channels = append(mn.channels, NewWebexNotifier(cfg.Webex, mn.timeout))
	}
	if cfg.Webhook.Enabled {
		mn.channels = append(mn.channels, NewWebhookNotifier(cfg.Webhook, mn.timeout))
	}
	if cfg.Telegram.Enabled {
		mn.channels = append(mn.channels, NewTelegramNotifier(cfg.Telegram, mn.timeout))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Enabled reports whether any channel is enabled.
func (mn *MultiNotifier) Enabled() bool {
	return len(mn.enabledChannels()) > 0
}

// ChannelEnabled reports whether the named channel is configured and enabled.
func (mn *MultiNotifier) ChannelEnabled(name string) bool {
	for _, ch := range mn.enabledChannels() {
		if ch.Name() == name {
			return true
		}
	}
	return false
}

func (mn *MultiNotifier) enabledChannels() []NotificationChannel {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	enabled := make([]NotificationChannel, 0, len(mn.channels))
	for _, ch := range mn.channels {
		if ch.IsEnabled() {
			enabled = append(enabled, ch)
		}
	}
	return enabled
}

// Deliver dispatches the event to every enabled channel and returns
// immediately. Sends outlive ctx cancellation but are bounded by the
// notifier timeout.
func (mn *MultiNotifier) Deliver(ctx context.Context, event models.AlertEvent) {
	n := NewAlertNotification(event)
	base := context.WithoutCancel(ctx)

	for _, ch := range mn.enabledChannels() {
		ch := ch
		mn.dispatched.Add(1)
		mn.wg.Go(func() {
			sendCtx, cancel := context.WithTimeout(base, mn.timeout)
			defer cancel()

			if err := ch.Send(sendCtx, n); err != nil {
				mn.failed.Add(1)
				derr := apperrors.NewDeliveryError(ch.Name(), event.RuleID, err)
				mn.logger.Warn().
					Err(derr).
					Str("channel", ch.Name()).
					Int("rule_id", event.RuleID).
					Str("symbol", event.Symbol).
					Msg("Alert delivery failed")
				return
			}
			mn.delivered.Add(1)
			mn.logger.Debug().
				Str("channel", ch.Name()).
				Int("rule_id", event.RuleID).
				Msg("Alert delivered")
		})
	}
}

// Wait blocks until all dispatched sends have finished.
func (mn *MultiNotifier) Wait() {
	if r := mn.wg.WaitAndRecover(); r != nil {
		mn.logger.Error().Str("panic", r.String()).Msg("Notification channel panicked")
	}
}

// Stats returns delivery counters.
func (mn *MultiNotifier) Stats() DeliveryStats {
	return DeliveryStats{
		Dispatched: mn.dispatched.Load(),
		Delivered:  mn.delivered.Load(),
		Failed:     mn.failed.Load(),
	}
}

// postJSON sends payload and expects a 2xx status.
func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", apperrors.ErrNotifyFailed, resp.StatusCode)
	}
	return nil
}

// WebexNotifier posts alerts to a Webex room as a bot.
type WebexNotifier struct {
	url     string
	token   string
	roomID  string
	enabled bool
	client  *http.Client
}

// NewWebexNotifier creates a new WebexNotifier.
func NewWebexNotifier(cfg config.WebexConfig, timeout time.Duration) *WebexNotifier {
	url := cfg.URL
	if url == "" {
		url = DefaultWebexURL
	}
	return &WebexNotifier{
		url:     url,
		token:   cfg.BotToken,
		roomID:  cfg.RoomID,
		enabled: cfg.BotToken != "" && cfg.RoomID != "",
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the name of the notifier.
func (w *WebexNotifier) Name() string {
	return "webex"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebexNotifier) IsEnabled() bool {
	return w.enabled
}

// Send posts the notification text to the configured room.
func (w *WebexNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]string{
		"roomId": w.roomID,
		"text":   n.Text(),
	}
	if err := postJSON(ctx, w.client, w.url, payload, map[string]string{
		"Authorization": "Bearer " + w.token,
	}); err != nil {
		return fmt.Errorf("webex: %w", err)
	}
	return nil
}

// WebhookNotifier sends notifications via HTTP webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(cfg config.WebhookConfig, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		url:     cfg.URL,
		enabled: cfg.Enabled && cfg.URL != "",
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"type":      "alert",
		"title":     n.Title,
		"message":   n.Message,
		"data":      n.Event,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}
	if err := postJSON(ctx, w.client, w.url, payload, map[string]string{
		"User-Agent": "smartstock/1.0",
	}); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// TelegramNotifier sends notifications via Telegram bot.
type TelegramNotifier struct {
	apiURL   string
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// NewTelegramNotifier creates a new TelegramNotifier.
func NewTelegramNotifier(cfg config.TelegramConfig, timeout time.Duration) *TelegramNotifier {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultTelegramURL
	}
	return &TelegramNotifier{
		apiURL:   strings.TrimRight(apiURL, "/"),
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the name of the notifier.
func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// IsEnabled returns whether the notifier is enabled.
func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

// Send sends a notification via Telegram.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	if !t.enabled {
		return nil
	}

	// HTML parse mode
	text := fmt.Sprintf("<b>%s</b>\n%s", escapeHTML(n.Title), escapeHTML(n.Message))
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.botToken)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if err := postJSON(ctx, t.client, url, payload, nil); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// NoOpNotifier is a notifier that does nothing (for testing or disabled notifications).
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// Deliver does nothing.
func (n *NoOpNotifier) Deliver(ctx context.Context, event models.AlertEvent) {}

// Enabled always returns false.
func (n *NoOpNotifier) Enabled() bool {
	return false
}
