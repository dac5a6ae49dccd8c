package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tally/internal/amqp"
	"tally/internal/core"
)

// Materializer turns a recurring template into one concrete ledger row.
// It copies the financial fields verbatim, persists the occurrence, and
// publishes an occurrence event when an AMQP client is configured. It never
// touches the template itself; advancing NextDueAt is the scheduler's job.
type Materializer struct {
	store  TemplateStore
	events *amqp.Client
}

// NewMaterializer creates a materializer. events may be nil; occurrences are
// then created without publishing.
func NewMaterializer(store TemplateStore, events *amqp.Client) *Materializer {
	return &Materializer{
		store:  store,
		events: events,
	}
}

// Materialize creates the occurrence of template dated at. Store failures
// propagate to the caller; retrying is the trigger's concern, not this
// layer's.
func (m *Materializer) Materialize(ctx context.Context, template core.Transaction, at time.Time) (core.Transaction, error) {
	occurrence := core.Transaction{
		ID:               uuid.New(),
		UserID:           template.UserID,
		AccountID:        template.AccountID,
		CategoryID:       template.CategoryID,
		Amount:           template.Amount,
		Kind:             template.Kind,
		Description:      template.Description,
		OccurredAt:       at.UTC(),
		IsRecurring:      false,
		Interval:         core.NoInterval,
		NextDueAt:        nil,
		ParentTemplateID: &template.ID,
	}

	created, err := m.store.CreateTransaction(ctx, occurrence)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create occurrence: %w", err)
	}

	slog.InfoContext(ctx, "Materialized occurrence from template",
		"occurrence_id", created.ID,
		"template_id", template.ID,
		"occurred_at", created.OccurredAt.Format(time.RFC3339),
		"amount_cents", core.Cents(created.Amount),
		"kind", created.Kind)

	// Publishing is best-effort: the occurrence is already a durable ledger
	// fact, so a broker outage must not fail the call.
	if m.events != nil {
		if err := m.events.PublishOccurrence(ctx, amqp.NewOccurrenceMessage(created.ID, template.ID, core.Cents(created.Amount), string(created.Kind))); err != nil {
			slog.ErrorContext(ctx, "Failed to publish occurrence event",
				"occurrence_id", created.ID,
				"error", err)
		}
	}

	return created, nil
}
