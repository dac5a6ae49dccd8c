package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
	"tally/internal/stats"
)

func seed(t *testing.T, s *Store, tx core.Transaction) core.Transaction {
	t.Helper()
	stored, err := s.CreateTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return stored
}

func TestStore_VersionConflict(t *testing.T) {
	s := New()
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tmpl := seed(t, s, core.Transaction{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		Amount:      decimal.NewFromInt(10),
		Kind:        core.Expense,
		Description: "Rent",
		IsRecurring: true,
		Interval:    core.Monthly,
		IsActive:    true,
		NextDueAt:   &due,
	})

	next := due.AddDate(0, 1, 0)
	if err := s.UpdateTemplateSchedule(context.Background(), tmpl.ID, &next, tmpl.Version); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Same version again: the second writer lost the race.
	err := s.UpdateTemplateSchedule(context.Background(), tmpl.ID, &next, tmpl.Version)
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("stale update error = %v, want ErrVersionConflict", err)
	}

	err = s.UpdateTemplateActivation(context.Background(), tmpl.ID, false, &next, tmpl.Version)
	if !errors.Is(err, core.ErrVersionConflict) {
		t.Errorf("stale activation error = %v, want ErrVersionConflict", err)
	}
}

func TestStore_FindDueTemplates(t *testing.T) {
	s := New()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -3)
	future := now.AddDate(0, 0, 3)

	base := core.Transaction{
		UserID:      uuid.New(),
		AccountID:   uuid.New(),
		Amount:      decimal.NewFromInt(5),
		Kind:        core.Expense,
		Description: "Coffee beans",
		IsRecurring: true,
		Interval:    core.Weekly,
		IsActive:    true,
	}

	dueTmpl := base
	dueTmpl.NextDueAt = &past
	dueTmpl = seed(t, s, dueTmpl)

	exactTmpl := base
	exactTmpl.NextDueAt = &now
	exactTmpl = seed(t, s, exactTmpl)

	futureTmpl := base
	futureTmpl.NextDueAt = &future
	seed(t, s, futureTmpl)

	inactive := base
	inactive.IsActive = false
	inactive.NextDueAt = &past
	seed(t, s, inactive)

	dormant := base
	dormant.NextDueAt = nil
	seed(t, s, dormant)

	due, err := s.FindDueTemplates(context.Background(), now)
	if err != nil {
		t.Fatalf("FindDueTemplates() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("got %d due templates, want 2", len(due))
	}
	if due[0].ID != dueTmpl.ID || due[1].ID != exactTmpl.ID {
		t.Errorf("due templates out of order or wrong: %v, %v", due[0].ID, due[1].ID)
	}
}

func TestStore_AggregateTransactions(t *testing.T) {
	s := New()
	userID := uuid.New()
	accountA := uuid.New()
	accountB := uuid.New()
	r := core.DateRange{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC),
	}

	row := func(account uuid.UUID, kind core.TransactionKind, amount string, at time.Time) core.Transaction {
		return core.Transaction{
			UserID:      userID,
			AccountID:   account,
			Amount:      decimal.RequireFromString(amount),
			Kind:        kind,
			Description: "row",
			OccurredAt:  at,
		}
	}

	seed(t, s, row(accountA, core.Income, "1000", r.Start))
	seed(t, s, row(accountA, core.Expense, "200.50", r.Start.AddDate(0, 0, 5)))
	seed(t, s, row(accountB, core.Expense, "99.50", r.Start.AddDate(0, 0, 10)))
	// Boundary rows: both ends inclusive.
	seed(t, s, row(accountA, core.Expense, "1", r.End))
	// Outside the window.
	seed(t, s, row(accountA, core.Expense, "500", r.Start.AddDate(0, -1, 0)))
	// Another user.
	other := row(accountA, core.Expense, "777", r.Start)
	other.UserID = uuid.New()
	seed(t, s, other)
	// Templates never aggregate.
	due := r.Start
	tmpl := row(accountA, core.Expense, "123", r.Start)
	tmpl.IsRecurring = true
	tmpl.Interval = core.Monthly
	tmpl.IsActive = true
	tmpl.NextDueAt = &due
	seed(t, s, tmpl)

	totals, err := s.AggregateTransactions(context.Background(), stats.Filter{UserID: userID, Range: r})
	if err != nil {
		t.Fatalf("AggregateTransactions() error = %v", err)
	}
	if !totals.Income.Equal(decimal.RequireFromString("1000")) {
		t.Errorf("Income = %s, want 1000", totals.Income)
	}
	if !totals.Expense.Equal(decimal.RequireFromString("301")) {
		t.Errorf("Expense = %s, want 301", totals.Expense)
	}
	if totals.IncomeCount != 1 || totals.ExpenseCount != 3 {
		t.Errorf("counts = %d income / %d expense, want 1/3", totals.IncomeCount, totals.ExpenseCount)
	}

	// Account filter narrows the result.
	scoped, err := s.AggregateTransactions(context.Background(), stats.Filter{UserID: userID, AccountID: &accountB, Range: r})
	if err != nil {
		t.Fatalf("AggregateTransactions(account) error = %v", err)
	}
	if !scoped.Expense.Equal(decimal.RequireFromString("99.50")) || scoped.ExpenseCount != 1 {
		t.Errorf("scoped expense = %s/%d, want 99.50/1", scoped.Expense, scoped.ExpenseCount)
	}
}

func TestStore_SumByDayAndCategory(t *testing.T) {
	s := New()
	userID := uuid.New()
	account := uuid.New()
	groceries := uuid.New()
	day1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 5, 20, 0, 0, 0, time.UTC)
	r := core.DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC),
	}

	seed(t, s, core.Transaction{
		UserID: userID, AccountID: account, CategoryID: &groceries,
		Amount: decimal.NewFromInt(30), Kind: core.Expense,
		Description: "food", OccurredAt: day1,
	})
	seed(t, s, core.Transaction{
		UserID: userID, AccountID: account, CategoryID: &groceries,
		Amount: decimal.NewFromInt(20), Kind: core.Expense,
		Description: "food", OccurredAt: day1.Add(2 * time.Hour),
	})
	seed(t, s, core.Transaction{
		UserID: userID, AccountID: account,
		Amount: decimal.NewFromInt(900), Kind: core.Income,
		Description: "salary", OccurredAt: day2,
	})

	days, err := s.SumByDay(context.Background(), stats.Filter{UserID: userID, Range: r})
	if err != nil {
		t.Fatalf("SumByDay() error = %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("got %d day buckets, want 2", len(days))
	}
	if !days[0].Expense.Equal(decimal.NewFromInt(50)) {
		t.Errorf("day1 expense = %s, want 50", days[0].Expense)
	}
	if !days[1].Income.Equal(decimal.NewFromInt(900)) {
		t.Errorf("day2 income = %s, want 900", days[1].Income)
	}

	categories, err := s.SumByCategory(context.Background(), stats.Filter{UserID: userID, Range: r})
	if err != nil {
		t.Fatalf("SumByCategory() error = %v", err)
	}
	// Income rows never appear in the category split.
	if len(categories) != 1 {
		t.Fatalf("got %d category buckets, want 1", len(categories))
	}
	if categories[0].CategoryID == nil || *categories[0].CategoryID != groceries {
		t.Errorf("category = %v, want %v", categories[0].CategoryID, groceries)
	}
	if !categories[0].Amount.Equal(decimal.NewFromInt(50)) || categories[0].Count != 2 {
		t.Errorf("category total = %s/%d, want 50/2", categories[0].Amount, categories[0].Count)
	}
}
