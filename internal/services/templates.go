package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// TemplateService exposes the user-facing recurring template operations:
// creation (which also materializes the first occurrence) and the manual
// active toggle.
type TemplateService struct {
	store        TemplateStore
	materializer *Materializer
	now          func() time.Time
}

// NewTemplateService creates the template operations service.
func NewTemplateService(store TemplateStore, materializer *Materializer) *TemplateService {
	return &TemplateService{
		store:        store,
		materializer: materializer,
		now:          time.Now,
	}
}

// CreateTemplateInput carries the validated fields for a new recurring
// template. Loose request payloads are decoded into this struct and rejected
// eagerly before any engine logic runs.
type CreateTemplateInput struct {
	UserID      uuid.UUID
	AccountID   uuid.UUID
	CategoryID  *uuid.UUID
	Amount      decimal.Decimal
	Kind        core.TransactionKind
	Description string
	Interval    core.Interval
}

// CreateTemplateResult pairs the stored template with the occurrence
// materialized at creation time.
type CreateTemplateResult struct {
	Template        core.Transaction
	FirstOccurrence core.Transaction
}

// CreateRecurringTemplate validates input, persists the template with its
// NextDueAt one interval ahead of now, and synchronously materializes
// exactly one occurrence dated now.
func (s *TemplateService) CreateRecurringTemplate(ctx context.Context, input CreateTemplateInput) (CreateTemplateResult, error) {
	if !input.Interval.IsValid() {
		return CreateTemplateResult{}, core.NewValidationError("interval", core.ErrInvalidInterval)
	}

	now := s.now().UTC()
	nextDue := core.NextOccurrence(now, input.Interval)

	template := core.Transaction{
		ID:          uuid.New(),
		UserID:      input.UserID,
		AccountID:   input.AccountID,
		CategoryID:  input.CategoryID,
		Amount:      input.Amount,
		Kind:        input.Kind,
		Description: input.Description,
		OccurredAt:  now,
		IsRecurring: true,
		Interval:    input.Interval,
		IsActive:    true,
		NextDueAt:   &nextDue,
	}
	if err := template.Validate(); err != nil {
		return CreateTemplateResult{}, err
	}

	stored, err := s.store.CreateTransaction(ctx, template)
	if err != nil {
		return CreateTemplateResult{}, fmt.Errorf("create template: %w", err)
	}

	first, err := s.materializer.Materialize(ctx, stored, now)
	if err != nil {
		return CreateTemplateResult{}, fmt.Errorf("materialize first occurrence: %w", err)
	}

	slog.InfoContext(ctx, "Created recurring template",
		"template_id", stored.ID,
		"interval", stored.Interval,
		"next_due", nextDue.Format(time.RFC3339))

	return CreateTemplateResult{Template: stored, FirstOccurrence: first}, nil
}

// ToggleTemplateActive flips a template's active flag. Reactivating a
// template whose NextDueAt drifted into the past fast-forwards the schedule
// once from now instead of replaying the pause as a backdated catch-up: the
// user paused it on purpose, so the missed cycles stay missed.
func (s *TemplateService) ToggleTemplateActive(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	template, err := s.store.FindTemplateByID(ctx, id)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find template: %w", err)
	}
	if !template.IsRecurring {
		return core.Transaction{}, core.NewValidationError("id", fmt.Errorf("transaction %s is not a recurring template", id))
	}

	now := s.now().UTC()
	active := !template.IsActive
	nextDue := template.NextDueAt

	if active && template.Interval.IsValid() && nextDue != nil && nextDue.Before(now) {
		forwarded := core.NextOccurrence(now, template.Interval)
		nextDue = &forwarded
		slog.InfoContext(ctx, "Fast-forwarded stale schedule on reactivation",
			"template_id", template.ID,
			"next_due", forwarded.Format(time.RFC3339))
	}

	if err := s.store.UpdateTemplateActivation(ctx, template.ID, active, nextDue, template.Version); err != nil {
		return core.Transaction{}, fmt.Errorf("toggle template: %w", err)
	}

	template.IsActive = active
	template.NextDueAt = nextDue
	template.Version++

	slog.InfoContext(ctx, "Toggled template active flag",
		"template_id", template.ID,
		"active", active)

	return template, nil
}
