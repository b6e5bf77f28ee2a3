package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"smartstock/internal/logging"
)

// Subscriber is a live outbound stream that can receive broadcast messages.
type Subscriber interface {
	// ID identifies the subscriber in logs and in the hub's membership set.
	ID() string
	// Send delivers one message. A returned error marks the subscriber dead.
	Send(ctx context.Context, msg []byte) error
}

// HubConfig holds configuration for the Stream Hub.
type HubConfig struct {
	// SendTimeout bounds a single delivery to one subscriber.
	SendTimeout time.Duration
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SendTimeout: 5 * time.Second,
	}
}

// Hub tracks connected subscribers and fans messages out to all of them.
// Subscribers whose delivery fails are dropped from the membership set.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	// Metrics
	messagesSent   uint64
	sendFailures   uint64
	subscribersCut uint64
	broadcasts     uint64
	metricsMu      sync.RWMutex
}

// HubMetrics contains hub delivery metrics.
type HubMetrics struct {
	Broadcasts     uint64 `json:"broadcasts"`
	MessagesSent   uint64 `json:"messages_sent"`
	SendFailures   uint64 `json:"send_failures"`
	SubscribersCut uint64 `json:"subscribers_cut"`
	Subscribers    int    `json:"subscribers"`
}

// NewHub creates a new stream hub with default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a new stream hub with custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultHubConfig().SendTimeout
	}
	return &Hub{
		config:      config,
		logger:      logging.WithComponent(logger, "hub"),
		subscribers: make(map[string]Subscriber),
	}
}

// Register adds a subscriber. It is included in the next broadcast.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub.ID()] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.logger.Info().
		Str("subscriber", sub.ID()).
		Int("subscribers", count).
		Msg("Subscriber registered")
}

// Unregister removes a subscriber. Removing an absent subscriber is a no-op.
func (h *Hub) Unregister(sub Subscriber) {
	if h.remove(sub.ID()) {
		h.logger.Info().
			Str("subscriber", sub.ID()).
			Int("subscribers", h.Count()).
			Msg("Subscriber unregistered")
	}
}

func (h *Hub) remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[id]; !ok {
		return false
	}
	delete(h.subscribers, id)
	return true
}

// Broadcast sends msg to every registered subscriber and returns the number
// of successful deliveries. Each delivery runs in its own goroutine so a slow
// or broken subscriber cannot delay the others. Failed subscribers are
// unregistered once all deliveries have finished.
func (h *Hub) Broadcast(ctx context.Context, msg []byte) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	h.metricsMu.Lock()
	h.broadcasts++
	h.metricsMu.Unlock()

	if len(subs) == 0 {
		return 0
	}

	errs := make([]error, len(subs))
	var wg conc.WaitGroup
	for i, sub := range subs {
		i, sub := i, sub
		wg.Go(func() {
			sendCtx, cancel := context.WithTimeout(ctx, h.config.SendTimeout)
			defer cancel()

			// A panicking send counts as a failed delivery.
			var pc panics.Catcher
			pc.Try(func() { errs[i] = sub.Send(sendCtx, msg) })
			if r := pc.Recovered(); r != nil {
				errs[i] = fmt.Errorf("send panicked: %w", r.AsError())
			}
		})
	}
	wg.Wait()

	delivered := 0
	for i, sub := range subs {
		if errs[i] == nil {
			delivered++
			continue
		}
		sl := logging.WithSubscriber(h.logger, sub.ID())
		sl.Warn().
			Err(errs[i]).
			Msg("Send failed, dropping subscriber")
		if h.remove(sub.ID()) {
			h.metricsMu.Lock()
			h.subscribersCut++
			h.metricsMu.Unlock()
		}
	}

	h.metricsMu.Lock()
	h.messagesSent += uint64(delivered)
	h.sendFailures += uint64(len(subs) - delivered)
	h.metricsMu.Unlock()

	return delivered
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Has reports whether a subscriber with the given id is registered.
func (h *Hub) Has(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subscribers[id]
	return ok
}

// Metrics returns hub metrics.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()

	return HubMetrics{
		Broadcasts:     h.broadcasts,
		MessagesSent:   h.messagesSent,
		SendFailures:   h.sendFailures,
		SubscribersCut: h.subscribersCut,
		Subscribers:    h.Count(),
	}
}
