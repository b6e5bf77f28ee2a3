// Package stream provides real-time data streaming and distribution functionality.
package stream

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"smartstock/internal/models"
)

// DefaultHistorySize is the number of fired events the engine retains.
const DefaultHistorySize = 50

// AlertEngine owns the alert rules, evaluates them against price snapshots
// and keeps a bounded trailing history of fired events.
//
// Evaluate is expected to be called from a single goroutine. The read lock
// lets administrative readers take consistent copies while a cycle runs.
type AlertEngine struct {
	mu          sync.RWMutex
	rules       []*models.AlertRule // registration order
	nextID      int
	events      []models.AlertEvent
	historySize int
	now         func() time.Time
	logger      zerolog.Logger
}

// AlertEngineOption configures an AlertEngine.
type AlertEngineOption func(*AlertEngine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) AlertEngineOption {
	return func(e *AlertEngine) {
		e.now = now
	}
}

// WithHistorySize overrides the event history capacity.
func WithHistorySize(n int) AlertEngineOption {
	return func(e *AlertEngine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithEngineLogger sets the logger used for skipped rules.
func WithEngineLogger(logger zerolog.Logger) AlertEngineOption {
	return func(e *AlertEngine) {
		e.logger = logger
	}
}

// NewAlertEngine creates an engine with no rules.
func NewAlertEngine(opts ...AlertEngineOption) *AlertEngine {
	e := &AlertEngine{
		nextID:      1,
		historySize: DefaultHistorySize,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RuleOption adjusts a rule before it is registered.
type RuleOption func(*models.AlertRule)

// WithEnabled sets whether the rule participates in evaluation.
func WithEnabled(enabled bool) RuleOption {
	return func(r *models.AlertRule) {
		r.Enabled = enabled
	}
}

// WithCooldown sets the minimum time between two firings of the rule.
func WithCooldown(d time.Duration) RuleOption {
	return func(r *models.AlertRule) {
		r.Cooldown = d
	}
}

// AddRule registers a rule and returns it with its assigned id.
// Only the symbol is normalized; the operator is stored as given.
func (e *AlertEngine) AddRule(symbol string, op models.Operator, threshold float64, description string, opts ...RuleOption) models.AlertRule {
	rule := &models.AlertRule{
		Symbol:      strings.ToUpper(symbol),
		Operator:    op,
		Threshold:   threshold,
		Description: description,
		Enabled:     true,
		Cooldown:    models.DefaultCooldown,
	}
	for _, opt := range opts {
		opt(rule)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule.ID = e.nextID
	e.nextID++
	e.rules = append(e.rules, rule)

	return rule.Clone()
}

// ListRules returns a copy of all rules in registration order.
func (e *AlertEngine) ListRules() []models.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]models.AlertRule, len(e.rules))
	for i, r := range e.rules {
		rules[i] = r.Clone()
	}
	return rules
}

// RuleCount returns the number of registered rules.
func (e *AlertEngine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// RecentEvents returns the event history, oldest first.
func (e *AlertEngine) RecentEvents() []models.AlertEvent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	events := make([]models.AlertEvent, len(e.events))
	copy(events, e.events)
	return events
}

// Evaluate checks every rule against the snapshot and returns the events
// fired by this call.
func (e *AlertEngine) Evaluate(snapshot models.PriceSnapshot) []models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rules) == 0 {
		return nil
	}

	now := e.now()

	bySymbol := make(map[string]models.PricePoint, len(snapshot.Points))
	for _, p := range snapshot.Points {
		bySymbol[strings.ToUpper(p.Symbol)] = p
	}

	var fired []models.AlertEvent
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}

		point, ok := bySymbol[rule.Symbol]
		if !ok {
			continue
		}

		if !rule.Operator.Valid() {
			e.logger.Debug().
				Int("rule_id", rule.ID).
				Str("operator", string(rule.Operator)).
				Msg("Unknown operator, rule never fires")
			continue
		}

		if !conditionMet(rule.Operator, point.Price, rule.Threshold) {
			continue
		}

		if !canTrigger(rule, now) {
			continue
		}

		triggeredAt := now
		rule.LastTriggered = &triggeredAt

		fired = append(fired, models.AlertEvent{
			RuleID:      rule.ID,
			Symbol:      rule.Symbol,
			Price:       point.Price,
			TriggeredAt: now,
			Message:     formatMessage(rule, point.Price),
		})
	}

	e.events = append(e.events, fired...)
	if over := len(e.events) - e.historySize; over > 0 {
		trimmed := make([]models.AlertEvent, e.historySize)
		copy(trimmed, e.events[over:])
		e.events = trimmed
	}

	return fired
}

// conditionMet applies the operator. Unknown operators never match.
func conditionMet(op models.Operator, price, threshold float64) bool {
	switch op {
	case models.OpGreater:
		return price > threshold
	case models.OpLess:
		return price < threshold
	case models.OpGreaterEqual:
		return price >= threshold
	case models.OpLessEqual:
		return price <= threshold
	case models.OpEqual:
		return price == threshold
	default:
		return false
	}
}

// canTrigger reports whether the rule is outside its cooldown window.
func canTrigger(rule *models.AlertRule, now time.Time) bool {
	if rule.LastTriggered == nil {
		return true
	}
	return now.Sub(*rule.LastTriggered) >= rule.Cooldown
}

// formatMessage renders e.g. "Alert 1: AAPL > 0 (current: 150.00)".
func formatMessage(rule *models.AlertRule, price float64) string {
	return fmt.Sprintf("Alert %d: %s %s %s (current: %.2f)",
		rule.ID,
		rule.Symbol,
		rule.Operator,
		formatThreshold(rule.Threshold),
		price,
	)
}

// formatThreshold prints whole thresholds without a fraction ("0", "200")
// and others in their shortest form ("180.5").
func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
