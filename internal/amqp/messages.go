package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OccurrenceMessage announces one materialized ledger occurrence so that
// downstream consumers (sync workers, exporters) can mirror it. It carries
// the identifiers plus the minimal financial facts; consumers fetch the full
// row from the store when they need more.
type OccurrenceMessage struct {
	OccurrenceID uuid.UUID `json:"occurrence_id"`
	TemplateID   uuid.UUID `json:"template_id"`
	AmountCents  int64     `json:"amount_cents"`
	Kind         string    `json:"kind"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewOccurrenceMessage creates an occurrence event stamped with the current
// time.
func NewOccurrenceMessage(occurrenceID, templateID uuid.UUID, amountCents int64, kind string) *OccurrenceMessage {
	return &OccurrenceMessage{
		OccurrenceID: occurrenceID,
		TemplateID:   templateID,
		AmountCents:  amountCents,
		Kind:         kind,
		Timestamp:    time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *OccurrenceMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OccurrenceMessageFromJSON creates a message from JSON bytes.
func OccurrenceMessageFromJSON(data []byte) (*OccurrenceMessage, error) {
	var msg OccurrenceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
