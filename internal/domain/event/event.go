package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope carried from intake to the pipeline handlers.
// Payload stays raw until a handler decodes it into its own shape.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent wraps payload into an envelope with a fresh ID and timestamp
func NewEvent(eventType Type, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		Payload:       raw,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}, nil
}

// WithCorrelation returns a copy of the event linked to an existing chain
func (e *Event) WithCorrelation(correlationID string) *Event {
	cp := *e
	cp.CorrelationID = correlationID
	return &cp
}

// Normalize fills the ID and timestamp of envelopes received from outside
func (e *Event) Normalize() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.ID
	}
}

// Decode unmarshals the payload into v
func (e *Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has empty payload", e.ID)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}
