package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

// TemplateStore is the persistence boundary the recurring engine drives.
// Implementations must enforce the optimistic version check on every
// template mutation and return core.ErrVersionConflict on a stale write.
type TemplateStore interface {
	// FindDueTemplates returns active recurring templates whose NextDueAt is
	// at or before now. Templates with a nil NextDueAt are dormant and never
	// returned.
	FindDueTemplates(ctx context.Context, now time.Time) ([]core.Transaction, error)

	// FindTemplateByID returns a recurring template, or core.ErrNotFound.
	FindTemplateByID(ctx context.Context, id uuid.UUID) (core.Transaction, error)

	// CreateTransaction persists a new ledger row (occurrence or template)
	// and returns it as stored.
	CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)

	// UpdateTemplateSchedule sets a template's NextDueAt. A nil nextDueAt
	// parks the template dormant. version is the version the caller read.
	UpdateTemplateSchedule(ctx context.Context, id uuid.UUID, nextDueAt *time.Time, version int64) error

	// UpdateTemplateActivation flips IsActive and writes the (possibly
	// fast-forwarded) NextDueAt in one guarded update.
	UpdateTemplateActivation(ctx context.Context, id uuid.UUID, active bool, nextDueAt *time.Time, version int64) error
}
