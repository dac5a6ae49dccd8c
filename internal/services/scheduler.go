package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tally/internal/core"
)

// defaultMaxParallel bounds how many templates one tick processes at once.
// Templates are independent units of work; a single template's catch-up loop
// stays sequential because each cursor step depends on the previous one.
const defaultMaxParallel = 8

// Scheduler drives the catch-up pass over due recurring templates. One call
// to ProcessDueTemplates handles one tick; the trigger cadence lives with
// the caller.
type Scheduler struct {
	store        TemplateStore
	materializer *Materializer
	maxParallel  int
}

// NewScheduler creates a scheduler over the given store and materializer.
func NewScheduler(store TemplateStore, materializer *Materializer) *Scheduler {
	return &Scheduler{
		store:        store,
		materializer: materializer,
		maxParallel:  defaultMaxParallel,
	}
}

// SetMaxParallel overrides how many templates one tick processes at once.
// Values below one keep the default.
func (s *Scheduler) SetMaxParallel(n int) {
	if n >= 1 {
		s.maxParallel = n
	}
}

// ProcessDueTemplates materializes every missed occurrence of every due
// template and advances each template's NextDueAt past now. It returns the
// number of occurrences created. A failure on one template is logged and
// never aborts the others.
func (s *Scheduler) ProcessDueTemplates(ctx context.Context, now time.Time) (int, error) {
	if s.store == nil || s.materializer == nil {
		return 0, fmt.Errorf("scheduler not properly initialized")
	}
	now = now.UTC()

	templates, err := s.store.FindDueTemplates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find due templates: %w", err)
	}

	slog.InfoContext(ctx, "Processing due recurring templates",
		"due", len(templates),
		"tick", now.Format(time.RFC3339))

	var created atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)

	for _, template := range templates {
		template := template
		g.Go(func() error {
			count, err := s.processTemplate(gctx, template, now)
			created.Add(int64(count))
			if err != nil {
				// Per-template isolation: log and keep the tick going.
				if errors.Is(err, core.ErrVersionConflict) {
					slog.WarnContext(gctx, "Template changed concurrently, skipping until next tick",
						"template_id", template.ID)
				} else {
					slog.ErrorContext(gctx, "Failed to process template",
						"template_id", template.ID,
						"error", err)
				}
			}
			return nil
		})
	}

	// Workers never return errors, but Wait still observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return int(created.Load()), err
	}

	slog.InfoContext(ctx, "Recurring template processing complete",
		"occurrences_created", created.Load(),
		"templates_checked", len(templates))

	return int(created.Load()), nil
}

// processTemplate walks the template's due-time cursor strictly up to now,
// materializing one occurrence per step. A template without a usable
// interval is a one-shot: it materializes once and is parked dormant.
func (s *Scheduler) processTemplate(ctx context.Context, template core.Transaction, now time.Time) (int, error) {
	if template.NextDueAt == nil {
		return 0, nil
	}
	cursor := template.NextDueAt.UTC()

	if !template.Interval.IsValid() {
		// Degenerate template: recurring flag without an interval. This can
		// arise from a legitimate partial update, so it is handled rather
		// than rejected.
		if _, err := s.materializer.Materialize(ctx, template, cursor); err != nil {
			return 0, err
		}
		if err := s.store.UpdateTemplateSchedule(ctx, template.ID, nil, template.Version); err != nil {
			return 1, fmt.Errorf("park one-shot template: %w", err)
		}
		slog.InfoContext(ctx, "Template has no interval, materialized once and parked dormant",
			"template_id", template.ID)
		return 1, nil
	}

	count := 0
	for cursor.Before(now) {
		if _, err := s.materializer.Materialize(ctx, template, cursor); err != nil {
			return count, err
		}
		count++
		cursor = core.NextOccurrence(cursor, template.Interval)
	}

	if count == 0 {
		return 0, nil
	}

	if err := s.store.UpdateTemplateSchedule(ctx, template.ID, &cursor, template.Version); err != nil {
		return count, fmt.Errorf("advance next due: %w", err)
	}

	slog.InfoContext(ctx, "Caught up recurring template",
		"template_id", template.ID,
		"occurrences_created", count,
		"next_due", cursor.Format(time.RFC3339),
		"interval", template.Interval)

	return count, nil
}
