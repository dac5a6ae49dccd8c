// Package storage implements the transaction store on SQLite. It is the
// default backend: a single-file database with the schema applied through
// embedded migrations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
	"tally/internal/stats"

	_ "modernc.org/sqlite"
)

const nanosPerDay = int64(24 * time.Hour)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, category_id, amount_cents, kind, description,
	occurred_at, is_recurring, recurrence_interval, is_active, next_due_at, parent_template_id,
	version, created_at`

// CreateTransaction implements services.TemplateStore.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()
	tx.Version = 1

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID.String(),
		tx.UserID.String(),
		tx.AccountID.String(),
		nullUUID(tx.CategoryID),
		core.Cents(tx.Amount),
		string(tx.Kind),
		tx.Description,
		tx.OccurredAt.UTC().UnixNano(),
		tx.IsRecurring,
		nullString(string(tx.Interval)),
		tx.IsActive,
		nullTime(tx.NextDueAt),
		nullUUID(tx.ParentTemplateID),
		tx.Version,
		tx.CreatedAt.UnixNano(),
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved",
		"id", tx.ID,
		"kind", tx.Kind,
		"is_recurring", tx.IsRecurring)

	return tx, nil
}

// FindDueTemplates implements services.TemplateStore.
func (r *SQLiteRepository) FindDueTemplates(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE is_recurring = 1 AND is_active = 1
		  AND next_due_at IS NOT NULL AND next_due_at <= ?
		ORDER BY next_due_at`,
		now.UTC().UnixNano(),
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
func (r *SQLiteRepository) FindTemplateByID(ctx context.Context, id uuid.UUID) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ? AND is_recurring = 1`,
		id.String(),
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get template by id: %w", err)
	}
	return tx, nil
}

// UpdateTemplateSchedule implements services.TemplateStore. The version in
// the WHERE clause is the optimistic concurrency check: a stale writer
// matches zero rows and gets core.ErrVersionConflict.
func (r *SQLiteRepository) UpdateTemplateSchedule(ctx context.Context, id uuid.UUID, nextDueAt *time.Time, version int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET next_due_at = ?, version = version + 1
		WHERE id = ? AND is_recurring = 1 AND version = ?`,
		nullTime(nextDueAt), id.String(), version,
	)
	if err != nil {
		return fmt.Errorf("update template schedule: %w", err)
	}
	return r.checkGuardedUpdate(ctx, res, id)
}

// UpdateTemplateActivation implements services.TemplateStore.
func (r *SQLiteRepository) UpdateTemplateActivation(ctx context.Context, id uuid.UUID, active bool, nextDueAt *time.Time, version int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET is_active = ?, next_due_at = ?, version = version + 1
		WHERE id = ? AND is_recurring = 1 AND version = ?`,
		active, nullTime(nextDueAt), id.String(), version,
	)
	if err != nil {
		return fmt.Errorf("update template activation: %w", err)
	}
	return r.checkGuardedUpdate(ctx, res, id)
}

func (r *SQLiteRepository) checkGuardedUpdate(ctx context.Context, res sql.Result, id uuid.UUID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM transactions WHERE id = ? AND is_recurring = 1`,
		id.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check template existence: %w", err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}
	return core.ErrVersionConflict
}

// AggregateTransactions implements stats.Aggregator.
func (r *SQLiteRepository) AggregateTransactions(ctx context.Context, f stats.Filter) (stats.KindTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'income' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN 1 ELSE 0 END), 0)
		FROM transactions
		WHERE ` + filterClause(f)

	var incomeCents, expenseCents, incomeCount, expenseCount int64
	err := r.db.QueryRowContext(ctx, query, filterArgs(f)...).
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
func (r *SQLiteRepository) SumByCategory(ctx context.Context, f stats.Filter) ([]stats.CategoryTotal, error) {
	query := `
		SELECT category_id, COALESCE(SUM(amount_cents), 0), COUNT(1)
		FROM transactions
		WHERE kind = 'expense' AND ` + filterClause(f) + `
		GROUP BY category_id
		ORDER BY SUM(amount_cents) DESC`

	rows, err := r.db.QueryContext(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("sum by category: %w", err)
	}
	defer rows.Close()

	var totals []stats.CategoryTotal
	for rows.Next() {
		var categoryID sql.NullString
		var cents, count int64
		if err := rows.Scan(&categoryID, &cents, &count); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		ct := stats.CategoryTotal{Amount: core.FromCents(cents), Count: count}
		if categoryID.Valid {
			parsed, err := uuid.Parse(categoryID.String)
			if err != nil {
				return nil, fmt.Errorf("parse category id: %w", err)
			}
			ct.CategoryID = &parsed
		}
		totals = append(totals, ct)
	}
	return totals, rows.Err()
}

// SumByDay implements stats.Aggregator. Days are UTC days since the epoch;
// occurred_at is stored in nanoseconds so integer division buckets exactly.
func (r *SQLiteRepository) SumByDay(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	query := fmt.Sprintf(`
		SELECT occurred_at / %d AS day,
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE `+filterClause(f)+`
		GROUP BY day
		ORDER BY day`, nanosPerDay)

	rows, err := r.db.QueryContext(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("sum by day: %w", err)
	}
	defer rows.Close()

	var totals []stats.BucketTotal
	for rows.Next() {
		var day, incomeCents, expenseCents int64
		if err := rows.Scan(&day, &incomeCents, &expenseCents); err != nil {
			return nil, fmt.Errorf("scan day total: %w", err)
		}
		totals = append(totals, stats.BucketTotal{
			Bucket:  time.Unix(0, day*nanosPerDay).UTC(),
			Income:  core.FromCents(incomeCents),
			Expense: core.FromCents(expenseCents),
		})
	}
	return totals, rows.Err()
}

// SumByMonth implements stats.Aggregator.
func (r *SQLiteRepository) SumByMonth(ctx context.Context, f stats.Filter) ([]stats.BucketTotal, error) {
	query := `
		SELECT strftime('%Y-%m', occurred_at / 1000000000, 'unixepoch') AS month,
			COALESCE(SUM(CASE WHEN kind = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transactions
		WHERE ` + filterClause(f) + `
		GROUP BY month
		ORDER BY month`

	rows, err := r.db.QueryContext(ctx, query, filterArgs(f)...)
	if err != nil {
		return nil, fmt.Errorf("sum by month: %w", err)
	}
	defer rows.Close()

	var totals []stats.BucketTotal
	for rows.Next() {
		var month string
		var incomeCents, expenseCents int64
		if err := rows.Scan(&month, &incomeCents, &expenseCents); err != nil {
			return nil, fmt.Errorf("scan month total: %w", err)
		}
		bucket, err := time.ParseInLocation("2006-01", month, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse month bucket %q: %w", month, err)
		}
		totals = append(totals, stats.BucketTotal{
			Bucket:  bucket,
			Income:  core.FromCents(incomeCents),
			Expense: core.FromCents(expenseCents),
		})
	}
	return totals, rows.Err()
}

// filterClause builds the shared aggregation predicate: concrete rows only,
// owned by the user, inside the window, optionally scoped to one account.
// filterArgs must stay in sync with the placeholder order here.
func filterClause(f stats.Filter) string {
	clause := `is_recurring = 0 AND user_id = ? AND occurred_at BETWEEN ? AND ?`
	if f.AccountID != nil {
		clause += ` AND account_id = ?`
	}
	return clause
}

func filterArgs(f stats.Filter) []any {
	args := []any{
		f.UserID.String(),
		f.Range.Start.UTC().UnixNano(),
		f.Range.End.UTC().UnixNano(),
	}
	if f.AccountID != nil {
		args = append(args, f.AccountID.String())
	}
	return args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx                             core.Transaction
		id, userID, accountID, kind    string
		categoryID, interval, parentID sql.NullString
		amountCents                    int64
		occurredAt, createdAt          int64
		nextDueAt                      sql.NullInt64
	)

	err := row.Scan(
		&id, &userID, &accountID, &categoryID, &amountCents, &kind, &tx.Description,
		&occurredAt, &tx.IsRecurring, &interval, &tx.IsActive, &nextDueAt, &parentID,
		&tx.Version, &createdAt,
	)
	if err != nil {
		return core.Transaction{}, err
	}

	if tx.ID, err = uuid.Parse(id); err != nil {
		return core.Transaction{}, fmt.Errorf("parse id: %w", err)
	}
	if tx.UserID, err = uuid.Parse(userID); err != nil {
		return core.Transaction{}, fmt.Errorf("parse user id: %w", err)
	}
	if tx.AccountID, err = uuid.Parse(accountID); err != nil {
		return core.Transaction{}, fmt.Errorf("parse account id: %w", err)
	}
	if categoryID.Valid {
		parsed, err := uuid.Parse(categoryID.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse category id: %w", err)
		}
		tx.CategoryID = &parsed
	}
	if parentID.Valid {
		parsed, err := uuid.Parse(parentID.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("parse parent template id: %w", err)
		}
		tx.ParentTemplateID = &parsed
	}

	tx.Amount = core.FromCents(amountCents)
	tx.Kind = core.TransactionKind(kind)
	tx.Interval = core.Interval(interval.String)
	tx.OccurredAt = time.Unix(0, occurredAt).UTC()
	tx.CreatedAt = time.Unix(0, createdAt).UTC()
	if nextDueAt.Valid {
		due := time.Unix(0, nextDueAt.Int64).UTC()
		tx.NextDueAt = &due
	}
	return tx, nil
}

func nullUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
