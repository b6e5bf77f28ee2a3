// Package models provides domain models for the price monitor.
package models

import (
	"time"
)

// MessageTypePriceUpdate tags the message pushed to stream subscribers.
const MessageTypePriceUpdate = "price_update"

// PricePoint represents the price of one symbol at one instant.
type PricePoint struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	PercentChange float64   `json:"percentChange"`
	Timestamp     time.Time `json:"ts"`
}

// PriceSnapshot is one fetch cycle's worth of price points.
// A snapshot is never mutated after construction; a new fetch produces a new one.
type PriceSnapshot struct {
	Points    []PricePoint
	CreatedAt time.Time
}

// NewPriceSnapshot creates a snapshot owning a copy of points.
func NewPriceSnapshot(points []PricePoint, createdAt time.Time) PriceSnapshot {
	cp := make([]PricePoint, len(points))
	copy(cp, points)
	return PriceSnapshot{Points: cp, CreatedAt: createdAt}
}

// Len returns the number of points in the snapshot.
func (s PriceSnapshot) Len() int {
	return len(s.Points)
}

// Symbols returns the symbols in snapshot order.
func (s PriceSnapshot) Symbols() []string {
	symbols := make([]string, len(s.Points))
	for i, p := range s.Points {
		symbols[i] = p.Symbol
	}
	return symbols
}

// PriceUpdateMessage is the payload broadcast to stream subscribers.
type PriceUpdateMessage struct {
	Type string       `json:"type"`
	Data []PricePoint `json:"data"`
}

// NewPriceUpdateMessage wraps a snapshot in the subscriber wire message.
func NewPriceUpdateMessage(s PriceSnapshot) PriceUpdateMessage {
	data := s.Points
	if data == nil {
		data = []PricePoint{}
	}
	return PriceUpdateMessage{
		Type: MessageTypePriceUpdate,
		Data: data,
	}
}
