// Package memstore is a map-backed transaction store. It backs the memory
// data backend and gives the engine tests a store with real optimistic
// concurrency semantics but no I/O.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/stats"
)

type Store struct {
	mu  sync.RWMutex
	txs map[uuid.UUID]core.Transaction
}

func New() *Store {
	return &Store{txs: make(map[uuid.UUID]core.Transaction)}
}

// CreateTransaction stores a new ledger row, stamping CreatedAt and the
// initial version.
func (s *Store) CreateTransaction(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()
	tx.Version = 1
	s.txs[tx.ID] = tx
	return tx, nil
}

func (s *Store) FindDueTemplates(_ context.Context, now time.Time) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []core.Transaction
	for _, tx := range s.txs {
		if tx.IsRecurring && tx.IsActive && tx.NextDueAt != nil && !tx.NextDueAt.After(now) {
			due = append(due, tx)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(*due[j].NextDueAt) })
	return due, nil
}

func (s *Store) FindTemplateByID(_ context.Context, id uuid.UUID) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok || !tx.IsRecurring {
		return core.Transaction{}, core.ErrNotFound
	}
	return tx, nil
}

func (s *Store) UpdateTemplateSchedule(_ context.Context, id uuid.UUID, nextDueAt *time.Time, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return core.ErrNotFound
	}
	if tx.Version != version {
		return core.ErrVersionConflict
	}
	tx.NextDueAt = cloneTime(nextDueAt)
	tx.Version++
	s.txs[id] = tx
	return nil
}

func (s *Store) UpdateTemplateActivation(_ context.Context, id uuid.UUID, active bool, nextDueAt *time.Time, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return core.ErrNotFound
	}
	if tx.Version != version {
		return core.ErrVersionConflict
	}
	tx.IsActive = active
	tx.NextDueAt = cloneTime(nextDueAt)
	tx.Version++
	s.txs[id] = tx
	return nil
}

func (s *Store) AggregateTransactions(_ context.Context, f stats.Filter) (stats.KindTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var totals stats.KindTotals
	for _, tx := range s.txs {
		if !matches(tx, f) {
			continue
		}
		switch tx.Kind {
		case core.Income:
			totals.Income = totals.Income.Add(tx.Amount)
			totals.IncomeCount++
		case core.Expense:
			totals.Expense = totals.Expense.Add(tx.Amount)
			totals.ExpenseCount++
		}
	}
	return totals, nil
}

func (s *Store) SumByCategory(_ context.Context, f stats.Filter) ([]stats.CategoryTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct {
		set bool
		id  uuid.UUID
	}
	grouped := make(map[key]*stats.CategoryTotal)
	for _, tx := range s.txs {
		if !matches(tx, f) || tx.Kind != core.Expense {
			continue
		}
		k := key{}
		if tx.CategoryID != nil {
			k = key{set: true, id: *tx.CategoryID}
		}
		ct, ok := grouped[k]
		if !ok {
			ct = &stats.CategoryTotal{CategoryID: tx.CategoryID}
			grouped[k] = ct
		}
		ct.Amount = ct.Amount.Add(tx.Amount)
		ct.Count++
	}

	out := make([]stats.CategoryTotal, 0, len(grouped))
	for _, ct := range grouped {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Amount.GreaterThan(out[j].Amount) })
	return out, nil
}

func (s *Store) SumByDay(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	return s.sumByBucket(f, func(ts time.Time) time.Time {
		ts = ts.UTC()
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	})
}

func (s *Store) SumByMonth(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	return s.sumByBucket(f, func(ts time.Time) time.Time {
		ts = ts.UTC()
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	})
}

func (s *Store) sumByBucket(f stats.Filter, bucket func(time.Time) time.Time) ([]stats.BucketTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grouped := make(map[time.Time]*stats.BucketTotal)
	for _, tx := range s.txs {
		if !matches(tx, f) {
			continue
		}
		b := bucket(tx.OccurredAt)
		bt, ok := grouped[b]
		if !ok {
			bt = &stats.BucketTotal{Bucket: b}
			grouped[b] = bt
		}
		switch tx.Kind {
		case core.Income:
			bt.Income = bt.Income.Add(tx.Amount)
		case core.Expense:
			bt.Expense = bt.Expense.Add(tx.Amount)
		}
	}

	out := make([]stats.BucketTotal, 0, len(grouped))
	for _, bt := range grouped {
		out = append(out, *bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// OccurrencesOf returns the occurrences spawned by a template, ordered by
// occurrence date. Test helper.
func (s *Store) OccurrencesOf(templateID uuid.UUID) []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.ParentTemplateID != nil && *tx.ParentTemplateID == templateID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out
}

// Get returns a stored row by ID. Test helper.
func (s *Store) Get(id uuid.UUID) (core.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	return tx, ok
}

// matches applies the aggregation filter: concrete rows only, owned by the
// user, optionally scoped to an account, inside the window.
func matches(tx core.Transaction, f stats.Filter) bool {
	if tx.IsRecurring {
		return false
	}
	if tx.UserID != f.UserID {
		return false
	}
	if f.AccountID != nil && tx.AccountID != *f.AccountID {
		return false
	}
	return f.Range.Contains(tx.OccurredAt)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}
