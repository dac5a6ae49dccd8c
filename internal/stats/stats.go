// Package stats computes dashboard statistics over the transaction ledger:
// period-over-period comparisons and date-bucketed spending views. It only
// ever reads; every query goes through the Aggregator port so the engine is
// testable against an in-memory store.
package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tally/internal/core"
)

// Filter scopes an aggregation query. Recurring templates are never part of
// an aggregate; implementations must only count concrete ledger rows.
type Filter struct {
	UserID    uuid.UUID
	AccountID *uuid.UUID
	Range     core.DateRange
}

// KindTotals is the raw sum/count pair per transaction kind for one filter.
type KindTotals struct {
	Income       decimal.Decimal
	Expense      decimal.Decimal
	IncomeCount  int64
	ExpenseCount int64
}

// CategoryTotal is an aggregate grouped by category. A nil CategoryID
// collects uncategorized rows.
type CategoryTotal struct {
	CategoryID *uuid.UUID
	Amount     decimal.Decimal
	Count      int64
}

// BucketTotal is an aggregate grouped by a time bucket (day or month).
// Bucket holds the bucket's start instant in UTC.
type BucketTotal struct {
	Bucket  time.Time
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// Aggregator is the read-only store port the engine depends on.
// SumByCategory aggregates expense rows only; the other queries cover both
// kinds.
type Aggregator interface {
	AggregateTransactions(ctx context.Context, f Filter) (KindTotals, error)
	SumByCategory(ctx context.Context, f Filter) ([]CategoryTotal, error)
	SumByDay(ctx context.Context, f Filter) ([]BucketTotal, error)
	SumByMonth(ctx context.Context, f Filter) ([]BucketTotal, error)
}
