// Package postgres implements the transaction store on PostgreSQL for
// deployments that outgrow the single-file SQLite backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/core"
	"tally/internal/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
    id UUID PRIMARY KEY,
    user_id UUID NOT NULL,
    account_id UUID NOT NULL,
    category_id UUID,
    amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
    kind TEXT NOT NULL CHECK (kind IN ('expense', 'income')),
    description TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
    recurrence_interval TEXT,
    is_active BOOLEAN NOT NULL DEFAULT FALSE,
    next_due_at TIMESTAMPTZ,
    parent_template_id UUID REFERENCES transactions(id),
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_due
    ON transactions(is_recurring, is_active, next_due_at);

CREATE INDEX IF NOT EXISTS idx_transactions_user_occurred
    ON transactions(user_id, occurred_at);

CREATE INDEX IF NOT EXISTS idx_transactions_parent
    ON transactions(parent_template_id);
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, category_id, amount_cents, kind, description,
	occurred_at, is_recurring, recurrence_interval, is_active, next_due_at, parent_template_id,
	version, created_at`

// CreateTransaction implements services.TemplateStore.
func (r *Repository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()
	tx.Version = 1

	_, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		tx.ID,
		tx.UserID,
		tx.AccountID,
		tx.CategoryID,
		core.Cents(tx.Amount),
		string(tx.Kind),
		tx.Description,
		tx.OccurredAt.UTC(),
		tx.IsRecurring,
		nullString(string(tx.Interval)),
		tx.IsActive,
		tx.NextDueAt,
		tx.ParentTemplateID,
		tx.Version,
		tx.CreatedAt,
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// FindDueTemplates implements services.TemplateStore.
func (r *Repository) FindDueTemplates(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_recurring AND is_active
		  AND next_due_at IS NOT NULL AND next_due_at <= $1
		ORDER BY next_due_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query due templates: %w", err)
	}
	defer rows.Close()

	var templates []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, tx)
	}
	return templates, rows.Err()
}

// FindTemplateByID implements services.TemplateStore.
func (r *Repository) FindTemplateByID(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1 AND is_recurring`,
		id,
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get template by id: %w", err)
	}
	return tx, nil
}

// UpdateTemplateSchedule implements services.TemplateStore.
func (r *Repository) UpdateTemplateSchedule(ctx context.Context, id uuid.UUID, nextDueAt *time.Time, version int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET next_due_at = $1, version = version + 1
		WHERE id = $2 AND is_recurring AND version = $3`,
		nextDueAt, id, version,
	)
	if err != nil {
		return fmt.Errorf("update template schedule: %w", err)
	}
	return r.checkGuardedUpdate(ctx, tag.RowsAffected(), id)
}

// UpdateTemplateActivation implements services.TemplateStore.
func (r *Repository) UpdateTemplateActivation(ctx context.Context, id uuid.UUID, active bool, nextDueAt *time.Time, version int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET is_active = $1, next_due_at = $2, version = version + 1
		WHERE id = $3 AND is_recurring AND version = $4`,
		active, nextDueAt, id, version,
	)
	if err != nil {
		return fmt.Errorf("update template activation: %w", err)
	}
	return r.checkGuardedUpdate(ctx, tag.RowsAffected(), id)
}

func (r *Repository) checkGuardedUpdate(ctx context.Context, affected int64, id uuid.UUID) error {
	if affected > 0 {
		return nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1 AND is_recurring)`,
		id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template existence: %w", err)
	}
	if !exists {
		return core.ErrNotFound
	}
	return core.ErrVersionConflict
}

// AggregateTransactions implements stats.Aggregator.
func (r *Repository) AggregateTransactions(ctx context.Context, f stats.Filter) (stats.KindTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0),
			COUNT(*) FILTER (WHERE kind = 'income'),
			COUNT(*) FILTER (WHERE kind = 'expense')
		FROM transactions
		WHERE ` + filterClause(f)

	var incomeCents, expenseCents, incomeCount, expenseCount int64
	err := r.pool.QueryRow(ctx, query, filterArgs(f)...).
		Scan(&incomeCents, &expenseCents, &incomeCount, &expenseCount)
	if err != nil {
		return stats.KindTotals{}, fmt.Errorf("aggregate transactions: %w", err)
	}

	return stats.KindTotals{
		Income:       core.FromCents(incomeCents),
		Expense:      core.FromCents(expenseCents),
		IncomeCount:  incomeCount,
		ExpenseCount: expenseCount,
	}, nil
}

// SumByCategory implements stats.Aggregator. Expense rows only.
func (r *Repository) SumByCategory(ctx context.Context, f stats.Filter) ([]stats.CategoryTotal, error) {
	query := `
		SELECT category_id, COALESCE(SUM(amount_cents), 0), COUNT(*)
		FROM transactions
		WHERE kind = 'expense' AND ` + filterClause(f) + `
		GROUP BY category_id
		ORDER BY SUM(amount_cents) DESC`

	rows, err := r.pool.Query(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	var totals []stats.CategoryTotal
	for rows.Next() {
		var ct stats.CategoryTotal
		var cents int64
		if err := rows.Scan(&ct.CategoryID, &cents, &ct.Count); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		ct.Amount = core.FromCents(cents)
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// SumByDay implements stats.Aggregator.
func (r *Repository) SumByDay(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	return r.sumByBucket(ctx, f, "day")
}

// SumByMonth implements stats.Aggregator.
func (r *Repository) SumByMonth(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	return r.sumByBucket(ctx, f, "month")
}

func (r *Repository) sumByBucket(ctx context.Context, f stats.Filter, unit string) ([]stats.BucketTotal, error) {
	query := fmt.Sprintf(`
		SELECT DATE_TRUNC('%s', occurred_at AT TIME ZONE 'UTC') AS bucket,
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE `+filterClause(f)+`
		GROUP BY bucket
		ORDER BY bucket`, unit)

	rows, err := r.pool.Query(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("sum by %s: %w", unit, err)
	}
	defer rows.Close()

	var totals []stats.BucketTotal
	for rows.Next() {
		var bucket time.Time
		var incomeCents, expenseCents int64
		if err := rows.Scan(&bucket, &incomeCents, &expenseCents); err != nil {
			return nil, fmt.Errorf("scan %s total: %w", unit, err)
		}
		totals = append(totals, stats.BucketTotal{
			Bucket:  bucket.UTC(),
			Income:  core.FromCents(incomeCents),
			Expense: core.FromCents(expenseCents),
		})
	}
	return totals, rows.Err()
}

// filterArgs must stay in sync with the placeholder order here.
func filterClause(f stats.Filter) string {
	clause := `NOT is_recurring AND user_id = $1 AND occurred_at BETWEEN $2 AND $3`
	if f.AccountID != nil {
		clause += ` AND account_id = $4`
	}
	return clause
}

func filterArgs(f stats.Filter) []any {
	args := []any{f.UserID, f.Range.Start.UTC(), f.Range.End.UTC()}
	if f.AccountID != nil {
		args = append(args, *f.AccountID)
	}
	return args
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx          core.Transaction
		amountCents int64
		kind        string
		interval    *string
	)

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &tx.CategoryID, &amountCents, &kind, &tx.Description,
		&tx.OccurredAt, &tx.IsRecurring, &interval, &tx.IsActive, &tx.NextDueAt, &tx.ParentTemplateID,
		&tx.Version, &tx.CreatedAt,
	)
	if err != nil {
		return core.Transaction{}, err
	}

	tx.Amount = core.FromCents(amountCents)
	tx.Kind = core.TransactionKind(kind)
	if interval != nil {
		tx.Interval = core.Interval(*interval)
	}
	tx.OccurredAt = tx.OccurredAt.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	if tx.NextDueAt != nil {
		due := tx.NextDueAt.UTC()
		tx.NextDueAt = &due
	}
	return tx, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
