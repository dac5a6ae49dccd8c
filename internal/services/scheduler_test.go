package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/memstore"
)

func seedTemplate(t *testing.T, store *memstore.Store, interval core.Interval, nextDue time.Time) core.Transaction {
	t.Helper()
	tmpl := core.Transaction{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		Amount:      decimal.NewFromFloat(9.99),
		Kind:        core.Expense,
		Description: "Streaming subscription",
		OccurredAt:  nextDue.AddDate(0, 0, -1),
		IsRecurring: true,
		Interval:    interval,
		IsActive:    true,
		NextDueAt:   &nextDue,
	}
	stored, err := store.CreateTransaction(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return stored
}

func newScheduler(store TemplateStore) *Scheduler {
	return NewScheduler(store, NewMaterializer(store, nil))
}

func TestScheduler_DailyCatchUp(t *testing.T) {
	// A daily template due since Jan 2, processed on Jan 5, must create the
	// Jan 2, 3 and 4 occurrences and leave the schedule at Jan 5 exactly.
	store := memstore.New()
	tmpl := seedTemplate(t, store, core.Daily, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	now := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 3 {
		t.Fatalf("ProcessDueTemplates() created = %d, want 3", created)
	}

	occurrences := store.OccurrencesOf(tmpl.ID)
	wantDates := []time.Time{
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	if len(occurrences) != len(wantDates) {
		t.Fatalf("got %d occurrences, want %d", len(occurrences), len(wantDates))
	}
	for i, occ := range occurrences {
		if !occ.OccurredAt.Equal(wantDates[i]) {
			t.Errorf("occurrence[%d].OccurredAt = %v, want %v", i, occ.OccurredAt, wantDates[i])
		}
		if occ.IsRecurring {
			t.Errorf("occurrence[%d] is flagged recurring", i)
		}
		if occ.NextDueAt != nil {
			t.Errorf("occurrence[%d] carries a NextDueAt", i)
		}
	}

	updated, _ := store.Get(tmpl.ID)
	if updated.NextDueAt == nil || !updated.NextDueAt.Equal(now) {
		t.Errorf("template NextDueAt = %v, want %v", updated.NextDueAt, now)
	}
}

func TestScheduler_ExactIntervalCount(t *testing.T) {
	// now - nextDue spans exactly two weekly intervals: exactly two
	// occurrences, never a third.
	store := memstore.New()
	due := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	tmpl := seedTemplate(t, store, core.Weekly, due)

	now := due.AddDate(0, 0, 14)
	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2", created)
	}

	updated, _ := store.Get(tmpl.ID)
	if updated.NextDueAt == nil || !updated.NextDueAt.Equal(now) {
		t.Errorf("NextDueAt = %v, want %v", updated.NextDueAt, now)
	}
}

func TestScheduler_NotDueUntouched(t *testing.T) {
	store := memstore.New()
	future := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tmpl := seedTemplate(t, store, core.Monthly, future)

	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), future.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0", created)
	}
	if got := store.OccurrencesOf(tmpl.ID); len(got) != 0 {
		t.Errorf("got %d occurrences for a template that was not due", len(got))
	}
}

func TestScheduler_InactiveSkipped(t *testing.T) {
	store := memstore.New()
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tmpl := seedTemplate(t, store, core.Daily, due)
	if err := store.UpdateTemplateActivation(context.Background(), tmpl.ID, false, &due, tmpl.Version); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), due.AddDate(0, 0, 10))
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d occurrences from an inactive template, want 0", created)
	}
}

func TestScheduler_MissingIntervalIsOneShot(t *testing.T) {
	// Recurring flag without an interval: materialize exactly once, then the
	// template goes dormant and later ticks ignore it.
	store := memstore.New()
	due := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	tmpl := seedTemplate(t, store, core.NoInterval, due)

	sched := newScheduler(store)
	now := due.AddDate(0, 0, 30)

	created, err := sched.ProcessDueTemplates(context.Background(), now)
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	updated, _ := store.Get(tmpl.ID)
	if updated.NextDueAt != nil {
		t.Errorf("one-shot template NextDueAt = %v, want nil", updated.NextDueAt)
	}

	// A second tick must not produce anything further.
	created, err = sched.ProcessDueTemplates(context.Background(), now.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("second tick error = %v", err)
	}
	if created != 0 {
		t.Errorf("second tick created = %d, want 0", created)
	}
	if got := store.OccurrencesOf(tmpl.ID); len(got) != 1 {
		t.Errorf("got %d occurrences, want 1", len(got))
	}
}

// faultyStore fails occurrence creation for one poisoned template.
type faultyStore struct {
	*memstore.Store
	poisoned uuid.UUID
}

func (f *faultyStore) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ParentTemplateID != nil && *tx.ParentTemplateID == f.poisoned {
		return core.Transaction{}, errors.New("disk full")
	}
	return f.Store.CreateTransaction(ctx, tx)
}

func TestScheduler_TemplateFailureIsIsolated(t *testing.T) {
	// One failing template must not block the rest of the batch.
	inner := memstore.New()
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	bad := seedTemplate(t, inner, core.Daily, due)
	good := seedTemplate(t, inner, core.Daily, due)

	store := &faultyStore{Store: inner, poisoned: bad.ID}
	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), due.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2 from the healthy template", created)
	}
	if got := inner.OccurrencesOf(good.ID); len(got) != 2 {
		t.Errorf("healthy template got %d occurrences, want 2", len(got))
	}
	if got := inner.OccurrencesOf(bad.ID); len(got) != 0 {
		t.Errorf("poisoned template got %d occurrences, want 0", len(got))
	}
}

func TestScheduler_VersionConflictSkipsTemplate(t *testing.T) {
	// A concurrent writer bumping the version between the read and the
	// schedule update means this tick loses; occurrences are created but the
	// stale schedule write is rejected, and the next tick retries.
	inner := memstore.New()
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tmpl := seedTemplate(t, inner, core.Daily, due)

	store := &racingStore{Store: inner, target: tmpl.ID}
	created, err := newScheduler(store).ProcessDueTemplates(context.Background(), due.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("ProcessDueTemplates() error = %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}

	updated, _ := inner.Get(tmpl.ID)
	if updated.NextDueAt == nil || !updated.NextDueAt.Equal(due) {
		t.Errorf("NextDueAt = %v, want untouched %v after conflict", updated.NextDueAt, due)
	}
}

// racingStore simulates a concurrent toggle: the first schedule update for
// the target template arrives with a version that is already stale.
type racingStore struct {
	*memstore.Store
	target uuid.UUID
	raced  bool
}

func (r *racingStore) UpdateTemplateSchedule(ctx context.Context, id uuid.UUID, nextDueAt *time.Time, version int64) error {
	if id == r.target && !r.raced {
		r.raced = true
		return core.ErrVersionConflict
	}
	return r.Store.UpdateTemplateSchedule(ctx, id, nextDueAt, version)
}
