package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"lending/internal/models"
	"lending/internal/storage"
	"lending/migrations"
)

const (
	tableBooks   = "books"
	tableMembers = "members"
	tableLoans   = "loans"
	tableAudit   = "audit_entries"

	constraintISBN        = "books_isbn_key"
	constraintEmail       = "members_email_key"
	constraintActiveLoan  = "loans_one_active_per_borrower_book"
	defaultMaxConnections = int32(8)
)

var builder = goqu.Dialect("postgres")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB is the transactional Storage backend
type PostgresDB struct {
	*repo
	pool *pgxpool.Pool
}

var _ storage.Storage = (*PostgresDB)(nil)

// repo implements storage.Repository on top of a pool or a transaction
type repo struct {
	q querier
}

// NewPostgresDB creates a connection pool for dsn and verifies it with a ping
func NewPostgresDB(ctx context.Context, dsn string, maxConns int32) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresDB{repo: &repo{q: pool}, pool: pool}, nil
}

// Initialize applies pending schema migrations
func (db *PostgresDB) Initialize(ctx context.Context) error {
	sqlDB := stdlib.OpenDBFromPool(db.pool)
	defer sqlDB.Close()

	return migrations.Up(ctx, sqlDB, migrations.Postgres)
}

// WithinTx runs fn inside a read-committed transaction
func (db *PostgresDB) WithinTx(ctx context.Context, fn func(ctx context.Context, repo storage.Repository) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &repo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// Close closes the connection pool
func (db *PostgresDB) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

// mapError translates constraint violations into domain errors
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		switch pgErr.ConstraintName {
		case constraintISBN:
			return models.ErrDuplicateISBN
		case constraintEmail:
			return models.ErrDuplicateEmail
		case constraintActiveLoan:
			return models.ErrDuplicateActiveLoan
		}
	case pgerrcode.CheckViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrInvalidField)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrNotFound)
	}
	return err
}

func (r *repo) exec(ctx context.Context, ds interface {
	ToSQL() (string, []any, error)
}) (pgconn.CommandTag, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return tag, mapError(err)
	}
	return tag, nil
}

// remove runs a delete whose row may still be referenced by loans
func (r *repo) remove(ctx context.Context, ds *goqu.DeleteDataset) (pgconn.CommandTag, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := r.q.Exec(ctx, query, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return tag, fmt.Errorf("%s: %w", pgErr.ConstraintName, models.ErrHasLoanHistory)
	}
	if err != nil {
		return tag, mapError(err)
	}
	return tag, nil
}

func (r *repo) insertReturningID(ctx context.Context, ds *goqu.InsertDataset) (int64, error) {
	query, args, err := ds.Returning("id").ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	var id int64
	if err := r.q.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

// ---- Books ----

var bookColumns = []any{"id", "isbn", "title", "author", "genre", "year", "total_copies", "available"}

func scanBook(row pgx.Row) (models.Book, error) {
	var b models.Book
	err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Genre, &b.Year, &b.TotalCopies, &b.Available)
	return b, err
}

func (r *repo) queryBooks(ctx context.Context, ds *goqu.SelectDataset) ([]models.Book, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []models.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

func (r *repo) getBook(ctx context.Context, where exp.Expression, lock bool) (models.Book, error) {
	ds := builder.From(tableBooks).Prepared(true).Select(bookColumns...).Where(where)
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return models.Book{}, fmt.Errorf("failed to build query: %w", err)
	}

	book, err := scanBook(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Book{}, mapError(err)
	}
	return book, nil
}

// CreateBook inserts a book and returns its id
func (r *repo) CreateBook(ctx context.Context, book models.Book) (int64, error) {
	ds := builder.Insert(tableBooks).Prepared(true).Rows(goqu.Record{
		"isbn":         book.ISBN,
		"title":        book.Title,
		"author":       book.Author,
		"genre":        book.Genre,
		"year":         book.Year,
		"total_copies": book.TotalCopies,
		"available":    book.Available,
	})
	id, err := r.insertReturningID(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("failed to create book: %w", err)
	}
	return id, nil
}

// GetBook returns the book with the given id
func (r *repo) GetBook(ctx context.Context, id int64) (models.Book, error) {
	book, err := r.getBook(ctx, goqu.C("id").Eq(id), false)
	if err != nil {
		return models.Book{}, fmt.Errorf("book %d: %w", id, err)
	}
	return book, nil
}

// LockBook returns the book and holds its row lock until the transaction ends
func (r *repo) LockBook(ctx context.Context, id int64) (models.Book, error) {
	book, err := r.getBook(ctx, goqu.C("id").Eq(id), true)
	if err != nil {
		return models.Book{}, fmt.Errorf("book %d: %w", id, err)
	}
	return book, nil
}

// FindBookByISBN returns the book registered under isbn
func (r *repo) FindBookByISBN(ctx context.Context, isbn string) (models.Book, error) {
	book, err := r.getBook(ctx, goqu.C("isbn").Eq(isbn), false)
	if err != nil {
		return models.Book{}, fmt.Errorf("isbn %s: %w", isbn, err)
	}
	return book, nil
}

// UpdateBook replaces the stored metadata and copy counts
func (r *repo) UpdateBook(ctx context.Context, book models.Book) error {
	ds := builder.Update(tableBooks).Prepared(true).Set(goqu.Record{
		"isbn":         book.ISBN,
		"title":        book.Title,
		"author":       book.Author,
		"genre":        book.Genre,
		"year":         book.Year,
		"total_copies": book.TotalCopies,
		"available":    book.Available,
	}).Where(goqu.C("id").Eq(book.ID))

	tag, err := r.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to update book %d: %w", book.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %d: %w", book.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteBook removes a book that no loan references
func (r *repo) DeleteBook(ctx context.Context, id int64) error {
	ds := builder.Delete(tableBooks).Prepared(true).Where(goqu.C("id").Eq(id))
	tag, err := r.remove(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to delete book %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListBooks returns books ordered by id
func (r *repo) ListBooks(ctx context.Context, availableOnly bool) ([]models.Book, error) {
	ds := builder.From(tableBooks).Prepared(true).Select(bookColumns...).Order(goqu.C("id").Asc())
	if availableOnly {
		ds = ds.Where(goqu.C("available").Gt(0))
	}
	return r.queryBooks(ctx, ds)
}

// SearchBooks returns books whose title contains the query, case-insensitively
func (r *repo) SearchBooks(ctx context.Context, title string) ([]models.Book, error) {
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(title) + "%"
	ds := builder.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("title").ILike(pattern)).
		Order(goqu.C("id").Asc())
	return r.queryBooks(ctx, ds)
}

// DecrementAvailability takes one copy off the shelf
func (r *repo) DecrementAvailability(ctx context.Context, id int64) error {
	ds := builder.Update(tableBooks).Prepared(true).
		Set(goqu.Record{"available": goqu.L("available - 1")}).
		Where(goqu.C("id").Eq(id), goqu.C("available").Gt(0))

	tag, err := r.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to decrement availability of book %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetBook(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("book %d: %w", id, models.ErrNoCopiesAvailable)
	}
	return nil
}

// IncrementAvailability puts one copy back, never above the total
func (r *repo) IncrementAvailability(ctx context.Context, id int64) error {
	ds := builder.Update(tableBooks).Prepared(true).
		Set(goqu.Record{"available": goqu.L("available + 1")}).
		Where(goqu.C("id").Eq(id), goqu.C("available").Lt(goqu.I("total_copies")))

	tag, err := r.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to increment availability of book %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetBook(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ---- Members ----

var memberColumns = []any{"id", "name", "email", "password_hash", "role", "institution", "created_at"}

func scanMember(row pgx.Row) (models.Member, error) {
	var m models.Member
	var role string
	err := row.Scan(&m.ID, &m.Name, &m.Email, &m.PasswordHash, &role, &m.Institution, &m.CreatedAt)
	m.Role = models.Role(role)
	return m, err
}

func (r *repo) getMember(ctx context.Context, where exp.Expression) (models.Member, error) {
	query, args, err := builder.From(tableMembers).Prepared(true).Select(memberColumns...).Where(where).ToSQL()
	if err != nil {
		return models.Member{}, fmt.Errorf("failed to build query: %w", err)
	}
	member, err := scanMember(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Member{}, mapError(err)
	}
	return member, nil
}

// CreateMember inserts a member and returns its id
func (r *repo) CreateMember(ctx context.Context, member models.Member) (int64, error) {
	ds := builder.Insert(tableMembers).Prepared(true).Rows(goqu.Record{
		"name":          member.Name,
		"email":         member.Email,
		"password_hash": member.PasswordHash,
		"role":          string(member.Role),
		"institution":   member.Institution,
	})
	id, err := r.insertReturningID(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("failed to create member: %w", err)
	}
	return id, nil
}

// GetMember returns the member with the given id
func (r *repo) GetMember(ctx context.Context, id int64) (models.Member, error) {
	member, err := r.getMember(ctx, goqu.C("id").Eq(id))
	if err != nil {
		return models.Member{}, fmt.Errorf("member %d: %w", id, err)
	}
	return member, nil
}

// GetMemberByEmail returns the member registered under email
func (r *repo) GetMemberByEmail(ctx context.Context, email string) (models.Member, error) {
	member, err := r.getMember(ctx, goqu.Func("lower", goqu.C("email")).Eq(strings.ToLower(email)))
	if err != nil {
		return models.Member{}, fmt.Errorf("email %s: %w", email, err)
	}
	return member, nil
}

// UpdateMember replaces profile fields, role and credential hash
func (r *repo) UpdateMember(ctx context.Context, member models.Member) error {
	ds := builder.Update(tableMembers).Prepared(true).Set(goqu.Record{
		"name":          member.Name,
		"email":         member.Email,
		"password_hash": member.PasswordHash,
		"role":          string(member.Role),
		"institution":   member.Institution,
	}).Where(goqu.C("id").Eq(member.ID))

	tag, err := r.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to update member %d: %w", member.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %d: %w", member.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteMember removes a member that no loan references
func (r *repo) DeleteMember(ctx context.Context, id int64) error {
	tag, err := r.remove(ctx, builder.Delete(tableMembers).Prepared(true).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return fmt.Errorf("failed to delete member %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("member %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// ListMembers returns members ordered by id
func (r *repo) ListMembers(ctx context.Context) ([]models.Member, error) {
	query, args, err := builder.From(tableMembers).Prepared(true).
		Select(memberColumns...).Order(goqu.C("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// ---- Loans ----

var loanColumns = []any{
	goqu.I("l.id"), goqu.I("l.borrower_id"), goqu.I("l.book_id"), goqu.I("l.duration_days"),
	goqu.I("l.issued_on"), goqu.I("l.due_on"), goqu.I("l.state"), goqu.I("l.returned_on"),
	goqu.L("l.fine_amount::text"), goqu.I("l.created_at"),
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner, extra ...any) (models.Loan, error) {
	var l models.Loan
	var state string
	var fine *string
	dest := append([]any{
		&l.ID, &l.BorrowerID, &l.BookID, &l.DurationDays,
		&l.IssuedOn, &l.DueOn, &state, &l.ReturnedOn, &fine, &l.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.Loan{}, err
	}

	l.State = models.LoanState(state)
	if fine != nil {
		amount, err := decimal.NewFromString(*fine)
		if err != nil {
			return models.Loan{}, fmt.Errorf("failed to parse fine %q: %w", *fine, err)
		}
		l.Fine = &amount
	}
	return l, nil
}

func (r *repo) getLoan(ctx context.Context, id int64, lock bool) (models.Loan, error) {
	ds := builder.From(goqu.T(tableLoans).As("l")).Prepared(true).
		Select(loanColumns...).
		Where(goqu.I("l.id").Eq(id))
	if lock {
		ds = ds.ForUpdate(exp.Wait)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return models.Loan{}, fmt.Errorf("failed to build query: %w", err)
	}

	loan, err := scanLoan(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return models.Loan{}, fmt.Errorf("loan %d: %w", id, mapError(err))
	}
	return loan, nil
}

// CreateLoan inserts a loan and returns its id
func (r *repo) CreateLoan(ctx context.Context, loan models.Loan) (int64, error) {
	ds := builder.Insert(tableLoans).Prepared(true).Rows(goqu.Record{
		"borrower_id":   loan.BorrowerID,
		"book_id":       loan.BookID,
		"duration_days": loan.DurationDays,
		"issued_on":     models.Day(loan.IssuedOn),
		"due_on":        models.Day(loan.DueOn),
		"state":         string(loan.State),
	})
	id, err := r.insertReturningID(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("failed to create loan: %w", err)
	}
	return id, nil
}

// GetLoan returns the loan with the given id
func (r *repo) GetLoan(ctx context.Context, id int64) (models.Loan, error) {
	return r.getLoan(ctx, id, false)
}

// LockLoan returns the loan and holds its row lock until the transaction ends
func (r *repo) LockLoan(ctx context.Context, id int64) (models.Loan, error) {
	return r.getLoan(ctx, id, true)
}

func (r *repo) countActive(ctx context.Context, where ...exp.Expression) (int, error) {
	where = append(where, goqu.C("state").Eq(string(models.LoanActive)))
	query, args, err := builder.From(tableLoans).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).Where(where...).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := r.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count loans: %w", err)
	}
	return n, nil
}

// HasActiveLoan reports whether borrowerID holds an active loan on bookID
func (r *repo) HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error) {
	n, err := r.countActive(ctx, goqu.C("borrower_id").Eq(borrowerID), goqu.C("book_id").Eq(bookID))
	return n > 0, err
}

// CountActiveLoansForBook counts outstanding loans on a book
func (r *repo) CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error) {
	return r.countActive(ctx, goqu.C("book_id").Eq(bookID))
}

// CountActiveLoansForMember counts outstanding loans held by a member
func (r *repo) CountActiveLoansForMember(ctx context.Context, memberID int64) (int, error) {
	return r.countActive(ctx, goqu.C("borrower_id").Eq(memberID))
}

// CloseLoan moves an active loan to a terminal state
func (r *repo) CloseLoan(ctx context.Context, id int64, state models.LoanState, closedOn time.Time, fine *decimal.Decimal) error {
	record := goqu.Record{
		"state":       string(state),
		"returned_on": models.Day(closedOn),
		"fine_amount": nil,
	}
	if fine != nil {
		record["fine_amount"] = goqu.L("?::text::numeric", fine.String())
	}

	ds := builder.Update(tableLoans).Prepared(true).Set(record).
		Where(goqu.C("id").Eq(id), goqu.C("state").Eq(string(models.LoanActive)))

	tag, err := r.exec(ctx, ds)
	if err != nil {
		return fmt.Errorf("failed to close loan %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetLoan(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("loan %d: %w", id, models.ErrLoanNotActive)
	}
	return nil
}

// loanViews selects loans joined with their book title and borrower name
func loanViews() *goqu.SelectDataset {
	columns := append(append([]any{}, loanColumns...), goqu.I("b.title"), goqu.I("m.name"))
	return builder.From(goqu.T(tableLoans).As("l")).Prepared(true).
		Select(columns...).
		Join(goqu.T(tableBooks).As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Join(goqu.T(tableMembers).As("m"), goqu.On(goqu.I("m.id").Eq(goqu.I("l.borrower_id"))))
}

// GetLoanView returns one loan with its book title and borrower name
func (r *repo) GetLoanView(ctx context.Context, id int64) (models.LoanView, error) {
	query, args, err := loanViews().Where(goqu.I("l.id").Eq(id)).ToSQL()
	if err != nil {
		return models.LoanView{}, fmt.Errorf("failed to build query: %w", err)
	}

	var view models.LoanView
	loan, err := scanLoan(r.q.QueryRow(ctx, query, args...), &view.BookTitle, &view.BorrowerName)
	if err != nil {
		return models.LoanView{}, fmt.Errorf("loan %d: %w", id, mapError(err))
	}
	view.Loan = loan
	return view, nil
}

// ListLoans returns loans matching filter ordered by due date, then id
func (r *repo) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error) {
	ds := loanViews().Order(goqu.I("l.due_on").Asc(), goqu.I("l.id").Asc())

	if filter.BorrowerID != 0 {
		ds = ds.Where(goqu.I("l.borrower_id").Eq(filter.BorrowerID))
	}
	if filter.ActiveOnly {
		ds = ds.Where(goqu.I("l.state").Eq(string(models.LoanActive)))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	defer rows.Close()

	var views []models.LoanView
	for rows.Next() {
		var view models.LoanView
		loan, err := scanLoan(rows, &view.BookTitle, &view.BorrowerName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		view.Loan = loan
		views = append(views, view)
	}
	return views, rows.Err()
}

// ---- Audit ----

// AppendAudit inserts an audit entry
func (r *repo) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	ds := builder.Insert(tableAudit).Prepared(true).Rows(goqu.Record{
		"id":         goqu.L("?::text::uuid", entry.ID),
		"actor_id":   entry.ActorID,
		"action":     entry.Action,
		"entity":     entry.Entity,
		"entity_id":  entry.EntityID,
		"detail":     entry.Detail,
		"created_at": entry.CreatedAt,
	})
	if _, err := r.exec(ctx, ds); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// RecentAudit returns the last N entries, newest first
func (r *repo) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	query, args, err := builder.From(tableAudit).Prepared(true).
		Select(goqu.L("id::text"), "actor_id", "action", "entity", "entity_id", "detail", "created_at").
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
