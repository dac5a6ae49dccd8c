package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
)

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNoChange Direction = "no-change"
)

// Metric names used as comparison keys.
const (
	MetricTotalIncome       = "totalIncome"
	MetricTotalExpenses     = "totalExpenses"
	MetricTotalBalance      = "totalBalance"
	MetricTotalTransactions = "totalTransactions"
)

type (
	Direction string

	// Aggregates are the derived sums for one window.
	Aggregates struct {
		TotalIncome       decimal.Decimal
		TotalExpenses     decimal.Decimal
		TotalBalance      decimal.Decimal
		IncomeCount       int64
		ExpenseCount      int64
		TotalTransactions int64
	}

	// Delta is a percentage change with its direction.
	Delta struct {
		ChangePercent decimal.Decimal
		Direction     Direction
	}

	// Comparison pairs the aggregates of two adjacent equal-length windows
	// with the per-metric percentage deltas between them.
	Comparison struct {
		CurrentRange  core.DateRange
		PreviousRange core.DateRange
		Current       Aggregates
		Previous      Aggregates
		Comparisons   map[string]Delta
	}

	// DailyPoint is one day of a bucketed spending view.
	DailyPoint struct {
		Day     time.Time
		Income  decimal.Decimal
		Expense decimal.Decimal
	}

	// MonthlyPoint is one month of a bucketed spending view.
	MonthlyPoint struct {
		Month   time.Time
		Income  decimal.Decimal
		Expense decimal.Decimal
	}

	// CategoryShare is one category's slice of a period's spending.
	CategoryShare struct {
		CategoryID *uuid.UUID
		Amount     decimal.Decimal
		Count      int64
		Percent    decimal.Decimal
	}

	// DashboardSummary bundles the views the dashboard renders in one call.
	DashboardSummary struct {
		Month      Comparison
		LastWeek   []DailyPoint
		Categories []CategoryShare
	}
)

// Engine computes statistics through an Aggregator. Statistics are
// all-or-nothing per request: any store failure aborts the whole
// computation.
type Engine struct {
	agg Aggregator
}

// NewEngine creates a stats engine over the given aggregator.
func NewEngine(agg Aggregator) *Engine {
	return &Engine{agg: agg}
}

// ComputeComparison aggregates the requested window and the equal-length
// window immediately before it, then derives percentage deltas per metric.
// The two window aggregations are independent reads and run concurrently.
func (e *Engine) ComputeComparison(ctx context.Context, userID uuid.UUID, r core.DateRange, accountID *uuid.UUID) (Comparison, error) {
	if err := r.Validate(); err != nil {
		return Comparison{}, err
	}
	previous := r.Previous()

	var current, prior Aggregates

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		current, err = e.aggregates(gctx, userID, r, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		prior, err = e.aggregates(gctx, userID, previous, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Comparison{}, err
	}

	return Comparison{
		CurrentRange:  r,
		PreviousRange: previous,
		Current:       current,
		Previous:      prior,
		Comparisons: map[string]Delta{
			MetricTotalIncome:       ChangePercent(current.TotalIncome, prior.TotalIncome),
			MetricTotalExpenses:     ChangePercent(current.TotalExpenses, prior.TotalExpenses),
			MetricTotalBalance:      ChangePercent(current.TotalBalance, prior.TotalBalance),
			MetricTotalTransactions: ChangePercent(decimal.NewFromInt(current.TotalTransactions), decimal.NewFromInt(prior.TotalTransactions)),
		},
	}, nil
}

func (e *Engine) aggregates(ctx context.Context, userID uuid.UUID, r core.DateRange, accountID *uuid.UUID) (Aggregates, error) {
	totals, err := e.agg.AggregateTransactions(ctx, Filter{
		UserID:    userID,
		AccountID: accountID,
		Range:     r,
	})
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregate transactions: %w", err)
	}

	return Aggregates{
		TotalIncome:       totals.Income,
		TotalExpenses:     totals.Expense,
		TotalBalance:      totals.Income.Sub(totals.Expense),
		IncomeCount:       totals.IncomeCount,
		ExpenseCount:      totals.ExpenseCount,
		TotalTransactions: totals.IncomeCount + totals.ExpenseCount,
	}, nil
}

// ChangePercent derives the percentage delta between two metric values. A
// zero previous value has no meaningful ratio: any current activity reads
// as a flat 100% increase, none as no change. Otherwise the delta is
// rounded half-up to two decimal places.
func ChangePercent(current, previous decimal.Decimal) Delta {
	if previous.IsZero() {
		if current.Sign() > 0 {
			return Delta{ChangePercent: decimal.NewFromInt(100), Direction: DirectionIncrease}
		}
		return Delta{ChangePercent: decimal.Zero, Direction: DirectionNoChange}
	}

	pct := current.Sub(previous).
		Div(previous).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	switch pct.Sign() {
	case 1:
		return Delta{ChangePercent: pct, Direction: DirectionIncrease}
	case -1:
		return Delta{ChangePercent: pct, Direction: DirectionDecrease}
	default:
		return Delta{ChangePercent: pct, Direction: DirectionNoChange}
	}
}

// DailySpending returns one point per day for the days-long window ending
// today. Days with no transactions appear with zero sums so charts can rely
// on a dense series.
func (e *Engine) DailySpending(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, now time.Time, days int) ([]DailyPoint, error) {
	if days < 1 {
		return nil, core.NewValidationError("days", fmt.Errorf("days must be positive, got %d", days))
	}
	first := startOfDay(now).AddDate(0, 0, -(days - 1))
	r := core.DateRange{Start: first, End: endOfDay(now)}

	buckets, err := e.agg.SumByDay(ctx, Filter{UserID: userID, AccountID: accountID, Range: r})
	if err != nil {
		return nil, fmt.Errorf("sum by day: %w", err)
	}

	byDay := make(map[time.Time]BucketTotal, len(buckets))
	for _, b := range buckets {
		byDay[startOfDay(b.Bucket)] = b
	}

	points := make([]DailyPoint, 0, days)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		b := byDay[day]
		points = append(points, DailyPoint{Day: day, Income: b.Income, Expense: b.Expense})
	}
	return points, nil
}

// MonthlySpending returns twelve points, one per month of the given year.
func (e *Engine) MonthlySpending(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, year int) ([]MonthlyPoint, error) {
	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := core.DateRange{Start: yearStart, End: yearStart.AddDate(1, 0, 0).Add(-time.Nanosecond)}

	buckets, err := e.agg.SumByMonth(ctx, Filter{UserID: userID, AccountID: accountID, Range: r})
	if err != nil {
		return nil, fmt.Errorf("sum by month: %w", err)
	}

	byMonth := make(map[time.Month]BucketTotal, len(buckets))
	for _, b := range buckets {
		byMonth[b.Bucket.UTC().Month()] = b
	}

	points := make([]MonthlyPoint, 0, 12)
	for m := time.January; m <= time.December; m++ {
		b := byMonth[m]
		points = append(points, MonthlyPoint{
			Month:   time.Date(year, m, 1, 0, 0, 0, 0, time.UTC),
			Income:  b.Income,
			Expense: b.Expense,
		})
	}
	return points, nil
}

// CategoryDistribution returns the current month's expense split by
// category, with each category's share of the total as a percentage rounded
// to two decimal places.
func (e *Engine) CategoryDistribution(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, now time.Time) ([]CategoryShare, error) {
	r, err := ResolveRange(RangeMonthly, nil, nil, now)
	if err != nil {
		return nil, err
	}

	totals, err := e.agg.SumByCategory(ctx, Filter{UserID: userID, AccountID: accountID, Range: r})
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}

	var grand decimal.Decimal
	for _, ct := range totals {
		grand = grand.Add(ct.Amount)
	}

	shares := make([]CategoryShare, 0, len(totals))
	for _, ct := range totals {
		share := CategoryShare{CategoryID: ct.CategoryID, Amount: ct.Amount, Count: ct.Count}
		if grand.Sign() > 0 {
			share.Percent = ct.Amount.Div(grand).Mul(decimal.NewFromInt(100)).Round(2)
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// Summary composes the dashboard views from the same aggregation primitive:
// current-month comparison, daily spending for the last seven days, and the
// current month's category distribution.
func (e *Engine) Summary(ctx context.Context, userID uuid.UUID, accountID *uuid.UUID, now time.Time) (DashboardSummary, error) {
	monthRange, err := ResolveRange(RangeMonthly, nil, nil, now)
	if err != nil {
		return DashboardSummary{}, err
	}

	comparison, err := e.ComputeComparison(ctx, userID, monthRange, accountID)
	if err != nil {
		return DashboardSummary{}, err
	}

	lastWeek, err := e.DailySpending(ctx, userID, accountID, now, 7)
	if err != nil {
		return DashboardSummary{}, err
	}

	categories, err := e.CategoryDistribution(ctx, userID, accountID, now)
	if err != nil {
		return DashboardSummary{}, err
	}

	return DashboardSummary{
		Month:      comparison,
		LastWeek:   lastWeek,
		Categories: categories,
	}, nil
}
