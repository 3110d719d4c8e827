package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"lending/internal/models"
)

// OverdueLoan is one row of the overdue report
type OverdueLoan struct {
	LoanID        int64     `db:"loan_id"`
	BookTitle     string    `db:"book_title"`
	BorrowerName  string    `db:"borrower_name"`
	BorrowerEmail string    `db:"borrower_email"`
	DueOn         time.Time `db:"due_on"`
	DaysLate      int       `db:"days_late"`
}

// StateCount is the number of loans in one state
type StateCount struct {
	State models.LoanState `db:"state"`
	Loans int64            `db:"loans"`
}

// Reports runs read-only operator queries over the shared pool
type Reports struct {
	db *sqlx.DB
}

// Reports opens a report reader on the pool. Closing it leaves the pool open.
func (db *PostgresDB) Reports() *Reports {
	return &Reports{db: sqlx.NewDb(stdlib.OpenDBFromPool(db.pool), "pgx")}
}

// Close releases the report handle
func (r *Reports) Close() error {
	return r.db.Close()
}

// Overdue lists active loans due before today, most overdue first
func (r *Reports) Overdue(ctx context.Context, today time.Time) ([]OverdueLoan, error) {
	day := models.Day(today).Format(time.DateOnly)
	query, args, err := builder.From(goqu.T(tableLoans).As("l")).Prepared(true).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("b.title").As("book_title"),
			goqu.I("m.name").As("borrower_name"),
			goqu.I("m.email").As("borrower_email"),
			goqu.I("l.due_on").As("due_on"),
			goqu.L("?::date - l.due_on", day).As("days_late"),
		).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T(tableMembers).As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.borrower_id")))).
		Where(
			goqu.I("l.state").Eq(string(models.LoanActive)),
			goqu.I("l.due_on").Lt(goqu.L("?::date", day)),
		).
		Order(goqu.I("l.due_on").Asc(), goqu.I("l.id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var rows []OverdueLoan
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list overdue loans: %w", err)
	}
	return rows, nil
}

// CountByState counts loans per state, ordered by state
func (r *Reports) CountByState(ctx context.Context) ([]StateCount, error) {
	query, args, err := builder.From(tableLoans).Prepared(true).
		Select(goqu.C("state"), goqu.COUNT(goqu.Star()).As("loans")).
		GroupBy(goqu.C("state")).
		Order(goqu.C("state").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var counts []StateCount
	if err := sqlx.SelectContext(ctx, r.db, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to count loans: %w", err)
	}
	return counts, nil
}
