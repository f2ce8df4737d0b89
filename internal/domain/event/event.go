package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by producers and handlers
const (
	KeyFromStatus = "from_status"
	KeyToStatus   = "to_status"
	KeyActorID    = "actor_id"
	KeyNotes      = "notes"
	KeyCommand    = "command"
)

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InvoiceID     string                 `json:"invoice_id,omitempty"`
	Recipients    []string               `json:"recipients,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, invoiceID string, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		InvoiceID:     invoiceID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain.
// Events produced by one command share the command's correlation ID.
func NewEventWithCorrelation(eventType Type, invoiceID string, payload map[string]interface{}, correlationID string) *Event {
	e := NewEvent(eventType, invoiceID, payload)
	e.CorrelationID = correlationID
	return e
}

// NewNotification creates a notification event addressed to the given actors.
// Empty and duplicate recipient IDs are dropped, first occurrence wins.
func NewNotification(eventType Type, invoiceID string, correlationID string, recipients ...string) *Event {
	e := NewEventWithCorrelation(eventType, invoiceID, map[string]interface{}{}, correlationID)
	e.Recipients = Recipients(recipients...)
	return e
}

// Recipients returns the non-empty IDs in order without duplicates
func Recipients(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	c.Recipients = append([]string(nil), e.Recipients...)
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}
