package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartstock/internal/config"
	"smartstock/internal/models"
)

func sampleEvent() models.AlertEvent {
	return models.AlertEvent{
		RuleID:      1,
		Symbol:      "AAPL",
		Price:       201.456,
		TriggeredAt: time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Message:     "Alert 1: AAPL > 200 (current: 201.46)",
	}
}

type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]interface{}
}

func (r *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(req.Body).Decode(&body)

		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()

		w.WriteHeader(status)
	}
}

func TestAlertNotificationText(t *testing.T) {
	n := NewAlertNotification(sampleEvent())

	want := "🚨 Stock Alert\n" +
		"Rule ID: 1\n" +
		"Symbol: AAPL\n" +
		"Triggered at: 2024-03-01T14:30:00Z\n" +
		"Price: 201.46\n" +
		"Details: Alert 1: AAPL > 200 (current: 201.46)"
	assert.Equal(t, want, n.Text())
}

func TestWebexSend(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	wx := NewWebexNotifier(config.WebexConfig{BotToken: "tok", RoomID: "room-1", URL: srv.URL}, time.Second)
	require.True(t, wx.IsEnabled())
	require.NoError(t, wx.Send(context.Background(), NewAlertNotification(sampleEvent())))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "Bearer tok", rec.requests[0].Header.Get("Authorization"))
	assert.Equal(t, "room-1", rec.bodies[0]["roomId"])
	assert.Contains(t, rec.bodies[0]["text"], "Symbol: AAPL")
}

func TestWebexDisabledWithoutRoom(t *testing.T) {
	wx := NewWebexNotifier(config.WebexConfig{BotToken: "tok"}, time.Second)
	assert.False(t, wx.IsEnabled())
	assert.NoError(t, wx.Send(context.Background(), NewAlertNotification(sampleEvent())))
}

func TestWebhookNon2xxIsError(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusBadGateway))
	defer srv.Close()

	wh := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL}, time.Second)
	err := wh.Send(context.Background(), NewAlertNotification(sampleEvent()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestTelegramEscapesHTML(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{
		Enabled: true, BotToken: "abc", ChatID: "42", APIURL: srv.URL,
	}, time.Second)
	require.NoError(t, tg.Send(context.Background(), NewAlertNotification(sampleEvent())))

	require.Len(t, rec.requests, 1)
	assert.Equal(t, "/botabc/sendMessage", rec.requests[0].URL.Path)
	assert.Contains(t, rec.bodies[0]["text"], "AAPL &gt; 200")
	assert.Equal(t, "HTML", rec.bodies[0]["parse_mode"])
}

type fakeChannel struct {
	name    string
	enabled bool
	err     error
	delay   time.Duration

	mu   sync.Mutex
	sent []Notification
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) IsEnabled() bool { return f.enabled }

func (f *fakeChannel) Send(ctx context.Context, n Notification) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestMultiNotifierDeliversToEnabledChannels(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{}, zerolog.Nop())
	assert.False(t, mn.Enabled())

	ok := &fakeChannel{name: "ok", enabled: true}
	broken := &fakeChannel{name: "broken", enabled: true, err: errors.New("down")}
	off := &fakeChannel{name: "off"}
	mn.AddChannel(ok)
	mn.AddChannel(broken)
	mn.AddChannel(off)
	require.True(t, mn.Enabled())
	assert.True(t, mn.ChannelEnabled("ok"))
	assert.False(t, mn.ChannelEnabled("off"))

	mn.Deliver(context.Background(), sampleEvent())
	mn.Deliver(context.Background(), sampleEvent())
	mn.Wait()

	assert.Equal(t, 2, ok.count())
	assert.Equal(t, 2, broken.count())
	assert.Equal(t, 0, off.count())
	assert.Equal(t, DeliveryStats{Dispatched: 4, Delivered: 2, Failed: 2}, mn.Stats())
}

func TestMultiNotifierDeliverDoesNotBlock(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{}, zerolog.Nop())
	slow := &fakeChannel{name: "slow", enabled: true, delay: 200 * time.Millisecond}
	mn.AddChannel(slow)

	start := time.Now()
	mn.Deliver(context.Background(), sampleEvent())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	mn.Wait()
	assert.Equal(t, 1, slow.count())
}

func TestMultiNotifierSurvivesCallerCancellation(t *testing.T) {
	mn := NewMultiNotifier(&config.NotificationConfig{}, zerolog.Nop())
	slow := &fakeChannel{name: "slow", enabled: true, delay: 50 * time.Millisecond}
	mn.AddChannel(slow)

	ctx, cancel := context.WithCancel(context.Background())
	mn.Deliver(ctx, sampleEvent())
	cancel()
	mn.Wait()

	assert.Equal(t, 1, slow.count())
}

func TestNewWithoutChannelsIsNoOp(t *testing.T) {
	n := New(&config.NotificationConfig{}, zerolog.Nop())
	_, ok := n.(*NoOpNotifier)
	assert.True(t, ok)
	assert.False(t, n.Enabled())

	n = New(&config.NotificationConfig{Webex: config.WebexConfig{BotToken: "t", RoomID: "r"}}, zerolog.Nop())
	mn, ok := n.(*MultiNotifier)
	require.True(t, ok)
	assert.True(t, mn.ChannelEnabled("webex"))
}
