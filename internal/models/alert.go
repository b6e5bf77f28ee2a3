package models

import (
	"encoding/json"
	"time"
)

// Operator is the comparison applied between a price and a rule threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Valid reports whether the operator is one the engine knows how to evaluate.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpGreaterEqual, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// DefaultCooldown is the minimum time between two firings of a rule.
const DefaultCooldown = 60 * time.Second

// AlertRule represents a threshold rule on one symbol.
type AlertRule struct {
	ID            int           `json:"id"`
	Symbol        string        `json:"symbol"`
	Operator      Operator      `json:"operator"`
	Threshold     float64       `json:"threshold"`
	Description   string        `json:"description"`
	Enabled       bool          `json:"enabled"`
	Cooldown      time.Duration `json:"-"`
	LastTriggered *time.Time    `json:"last_triggered"`
}

// MarshalJSON renders the cooldown in seconds alongside the other fields.
func (r AlertRule) MarshalJSON() ([]byte, error) {
	type rule AlertRule
	return json.Marshal(struct {
		rule
		CooldownSeconds float64 `json:"cooldown_seconds"`
	}{rule(r), r.Cooldown.Seconds()})
}

// Clone returns a copy that shares no memory with r.
func (r AlertRule) Clone() AlertRule {
	if r.LastTriggered != nil {
		t := *r.LastTriggered
		r.LastTriggered = &t
	}
	return r
}

// AlertEvent is one firing of a rule.
type AlertEvent struct {
	RuleID      int       `json:"rule_id"`
	Symbol      string    `json:"symbol"`
	Price       float64   `json:"price"`
	TriggeredAt time.Time `json:"triggered_at"`
	Message     string    `json:"message"`
}
