package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
)

func TestChangePercent(t *testing.T) {
	tests := []struct {
		name          string
		current       float64
		previous      float64
		wantPercent   string
		wantDirection Direction
	}{
		{"both zero", 0, 0, "0", DirectionNoChange},
		{"activity from nothing", 50, 0, "100", DirectionIncrease},
		{"decrease", 80, 100, "-20", DirectionDecrease},
		{"increase", 150, 100, "50", DirectionIncrease},
		{"unchanged", 100, 100, "0", DirectionNoChange},
		{"fractional rounds to two places", 100, 3, "3233.33", DirectionIncrease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChangePercent(decimal.NewFromFloat(tt.current), decimal.NewFromFloat(tt.previous))
			if !got.ChangePercent.Equal(decimal.RequireFromString(tt.wantPercent)) {
				t.Errorf("ChangePercent = %s, want %s", got.ChangePercent, tt.wantPercent)
			}
			if got.Direction != tt.wantDirection {
				t.Errorf("Direction = %s, want %s", got.Direction, tt.wantDirection)
			}
		})
	}
}

// fakeAggregator returns canned totals per window start and records the
// filters it saw.
type fakeAggregator struct {
	totals  map[time.Time]KindTotals
	filters []Filter
	err     error
}

func (f *fakeAggregator) AggregateTransactions(_ context.Context, filter Filter) (KindTotals, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return KindTotals{}, f.err
	}
	return f.totals[filter.Range.Start], nil
}

func (f *fakeAggregator) SumByCategory(context.Context, Filter) ([]CategoryTotal, error) {
	return nil, nil
}

func (f *fakeAggregator) SumByDay(context.Context, Filter) ([]BucketTotal, error) {
	return nil, nil
}

func (f *fakeAggregator) SumByMonth(context.Context, Filter) ([]BucketTotal, error) {
	return nil, nil
}

func TestComputeComparison(t *testing.T) {
	current := core.DateRange{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond),
	}
	previousStart := current.Previous().Start

	agg := &fakeAggregator{totals: map[time.Time]KindTotals{
		current.Start: {
			Income:       decimal.NewFromInt(3000),
			Expense:      decimal.NewFromInt(1200),
			IncomeCount:  2,
			ExpenseCount: 10,
		},
		previousStart: {
			Income:       decimal.NewFromInt(3000),
			Expense:      decimal.NewFromInt(1500),
			IncomeCount:  2,
			ExpenseCount: 10,
		},
	}}

	engine := NewEngine(agg)
	userID := uuid.New()

	got, err := engine.ComputeComparison(context.Background(), userID, current, nil)
	if err != nil {
		t.Fatalf("ComputeComparison() error = %v", err)
	}

	if !got.Current.TotalBalance.Equal(decimal.NewFromInt(1800)) {
		t.Errorf("Current.TotalBalance = %s, want 1800", got.Current.TotalBalance)
	}
	if got.Current.TotalTransactions != 12 {
		t.Errorf("Current.TotalTransactions = %d, want 12", got.Current.TotalTransactions)
	}

	expenses := got.Comparisons[MetricTotalExpenses]
	if !expenses.ChangePercent.Equal(decimal.NewFromInt(-20)) || expenses.Direction != DirectionDecrease {
		t.Errorf("expenses delta = %s %s, want -20 decrease", expenses.ChangePercent, expenses.Direction)
	}
	income := got.Comparisons[MetricTotalIncome]
	if !income.ChangePercent.IsZero() || income.Direction != DirectionNoChange {
		t.Errorf("income delta = %s %s, want 0 no-change", income.ChangePercent, income.Direction)
	}
	balance := got.Comparisons[MetricTotalBalance]
	if balance.Direction != DirectionIncrease {
		t.Errorf("balance direction = %s, want increase", balance.Direction)
	}

	// The engine must query exactly two adjacent equal-length windows.
	if len(agg.filters) != 2 {
		t.Fatalf("aggregator saw %d filters, want 2", len(agg.filters))
	}
	if !got.PreviousRange.End.Equal(got.CurrentRange.Start.Add(-time.Nanosecond)) {
		t.Error("previous window is not adjacent to current window")
	}
	if got.PreviousRange.Duration() != got.CurrentRange.Duration() {
		t.Error("windows have different lengths")
	}
	for _, f := range agg.filters {
		if f.UserID != userID {
			t.Errorf("filter user = %v, want %v", f.UserID, userID)
		}
	}
}

func TestComputeComparison_InvalidRange(t *testing.T) {
	engine := NewEngine(&fakeAggregator{})
	r := core.DateRange{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	_, err := engine.ComputeComparison(context.Background(), uuid.New(), r, nil)
	if !core.IsValidationError(err) {
		t.Errorf("ComputeComparison() error = %v, want ValidationError", err)
	}
}

func TestComputeComparison_StoreErrorIsFatal(t *testing.T) {
	storeErr := errors.New("query timeout")
	engine := NewEngine(&fakeAggregator{err: storeErr})
	r := core.DateRange{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
	}

	_, err := engine.ComputeComparison(context.Background(), uuid.New(), r, nil)
	if !errors.Is(err, storeErr) {
		t.Errorf("ComputeComparison() error = %v, want wrapped %v", err, storeErr)
	}
}

type bucketAggregator struct {
	fakeAggregator
	days   []BucketTotal
	months []BucketTotal
}

func (b *bucketAggregator) SumByDay(context.Context, Filter) ([]BucketTotal, error) {
	return b.days, nil
}

func (b *bucketAggregator) SumByMonth(context.Context, Filter) ([]BucketTotal, error) {
	return b.months, nil
}

func TestDailySpending_DenseSeries(t *testing.T) {
	now := time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC)
	agg := &bucketAggregator{days: []BucketTotal{
		{
			Bucket:  time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC),
			Expense: decimal.NewFromInt(40),
		},
		{
			Bucket:  time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC),
			Expense: decimal.NewFromInt(15),
			Income:  decimal.NewFromInt(100),
		},
	}}

	points, err := NewEngine(agg).DailySpending(context.Background(), uuid.New(), nil, now, 7)
	if err != nil {
		t.Fatalf("DailySpending() error = %v", err)
	}
	if len(points) != 7 {
		t.Fatalf("got %d points, want 7", len(points))
	}
	if !points[0].Day.Equal(time.Date(2024, 5, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first day = %v, want 2024-05-04", points[0].Day)
	}
	if !points[2].Expense.Equal(decimal.NewFromInt(40)) {
		t.Errorf("May 6 expense = %s, want 40", points[2].Expense)
	}
	if !points[1].Expense.IsZero() {
		t.Errorf("empty day expense = %s, want 0", points[1].Expense)
	}
	if !points[6].Income.Equal(decimal.NewFromInt(100)) {
		t.Errorf("today income = %s, want 100", points[6].Income)
	}
}

func TestMonthlySpending_TwelvePoints(t *testing.T) {
	agg := &bucketAggregator{months: []BucketTotal{
		{
			Bucket:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Expense: decimal.NewFromInt(500),
		},
	}}

	points, err := NewEngine(agg).MonthlySpending(context.Background(), uuid.New(), nil, 2024)
	if err != nil {
		t.Fatalf("MonthlySpending() error = %v", err)
	}
	if len(points) != 12 {
		t.Fatalf("got %d points, want 12", len(points))
	}
	if !points[2].Expense.Equal(decimal.NewFromInt(500)) {
		t.Errorf("March expense = %s, want 500", points[2].Expense)
	}
	if !points[0].Expense.IsZero() {
		t.Errorf("January expense = %s, want 0", points[0].Expense)
	}
}

type categoryAggregator struct {
	fakeAggregator
	categories []CategoryTotal
}

func (c *categoryAggregator) SumByCategory(context.Context, Filter) ([]CategoryTotal, error) {
	return c.categories, nil
}

func TestCategoryDistribution_Shares(t *testing.T) {
	groceries := uuid.New()
	transport := uuid.New()
	agg := &categoryAggregator{categories: []CategoryTotal{
		{CategoryID: &groceries, Amount: decimal.NewFromInt(300), Count: 12},
		{CategoryID: &transport, Amount: decimal.NewFromInt(100), Count: 4},
	}}

	shares, err := NewEngine(agg).CategoryDistribution(context.Background(), uuid.New(), nil, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("CategoryDistribution() error = %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("got %d shares, want 2", len(shares))
	}
	if !shares[0].Percent.Equal(decimal.NewFromInt(75)) {
		t.Errorf("groceries share = %s, want 75", shares[0].Percent)
	}
	if !shares[1].Percent.Equal(decimal.NewFromInt(25)) {
		t.Errorf("transport share = %s, want 25", shares[1].Percent)
	}
}
