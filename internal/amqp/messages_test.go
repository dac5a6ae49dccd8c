package amqp

import (
	"testing"

	"github.com/google/uuid"
)

func TestOccurrenceMessageRoundTrip(t *testing.T) {
	occurrenceID := uuid.New()
	templateID := uuid.New()

	msg := NewOccurrenceMessage(occurrenceID, templateID, 1234, "expense")
	if msg.Timestamp.IsZero() {
		t.Error("NewOccurrenceMessage() did not stamp a timestamp")
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	decoded, err := OccurrenceMessageFromJSON(body)
	if err != nil {
		t.Fatalf("OccurrenceMessageFromJSON() error = %v", err)
	}
	if decoded.OccurrenceID != occurrenceID {
		t.Errorf("OccurrenceID = %v, want %v", decoded.OccurrenceID, occurrenceID)
	}
	if decoded.TemplateID != templateID {
		t.Errorf("TemplateID = %v, want %v", decoded.TemplateID, templateID)
	}
	if decoded.AmountCents != 1234 || decoded.Kind != "expense" {
		t.Errorf("payload mismatch: %+v", decoded)
	}
}

func TestOccurrenceMessageFromJSON_Invalid(t *testing.T) {
	if _, err := OccurrenceMessageFromJSON([]byte("{not json")); err == nil {
		t.Error("OccurrenceMessageFromJSON() accepted malformed payload")
	}
}
