package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	DialogStarted   EventType = "dialog.started"
	StepTransition  EventType = "step.transition"
	DialogEnded     EventType = "dialog.ended"
	DialogEscalated EventType = "dialog.escalated"
	DeliveryFailed  EventType = "delivery.failed"
	DealLookup      EventType = "deal.lookup"
)

// Envelope wraps every event published for a dialog.
type Envelope struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	DialogID  string          `json:"dialog_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DialogStartedData is the payload for dialog.started events.
type DialogStartedData struct {
	Platform string `json:"platform"`
	ChatID   string `json:"chat_id,omitempty"`
	Step     string `json:"step"`
}

// StepTransitionData is the payload for step.transition events.
type StepTransitionData struct {
	FromStep string `json:"from_step"`
	ToStep   string `json:"to_step"`
	Platform string `json:"platform"`
	Script   string `json:"script,omitempty"`
}

// DialogEndedData is the payload for dialog.ended events.
type DialogEndedData struct {
	LastStep string `json:"last_step"`
	// Reason is "completed" or "idle".
	Reason string `json:"reason"`
}

// DialogEscalatedData is the payload for dialog.escalated events.
type DialogEscalatedData struct {
	ChatID string `json:"chat_id"`
	Step   string `json:"step"`
}

// DeliveryFailedData is the payload for delivery.failed events.
type DeliveryFailedData struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// DealLookupData is the payload for deal.lookup events.
type DealLookupData struct {
	Locator string `json:"locator"`
	Found   bool   `json:"found"`
	DealID  string `json:"deal_id,omitempty"`
	Error   string `json:"error,omitempty"`
}
