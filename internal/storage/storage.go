package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lending/internal/models"
)

// Repository defines the data operations of the catalog, member, loan and audit tables.
// Inside Storage.WithinTx every call joins the surrounding transaction.
type Repository interface {
	// Book operations
	CreateBook(ctx context.Context, book models.Book) (int64, error)
	GetBook(ctx context.Context, id int64) (models.Book, error)
	// LockBook reads the book and holds a row lock until the transaction ends
	LockBook(ctx context.Context, id int64) (models.Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (models.Book, error)
	UpdateBook(ctx context.Context, book models.Book) error
	DeleteBook(ctx context.Context, id int64) error
	ListBooks(ctx context.Context, availableOnly bool) ([]models.Book, error)
	SearchBooks(ctx context.Context, title string) ([]models.Book, error)
	// DecrementAvailability fails with models.ErrNoCopiesAvailable instead of going below zero
	DecrementAvailability(ctx context.Context, id int64) error
	IncrementAvailability(ctx context.Context, id int64) error

	// Member operations
	CreateMember(ctx context.Context, member models.Member) (int64, error)
	GetMember(ctx context.Context, id int64) (models.Member, error)
	GetMemberByEmail(ctx context.Context, email string) (models.Member, error)
	UpdateMember(ctx context.Context, member models.Member) error
	DeleteMember(ctx context.Context, id int64) error
	ListMembers(ctx context.Context) ([]models.Member, error)

	// Loan operations
	CreateLoan(ctx context.Context, loan models.Loan) (int64, error)
	GetLoan(ctx context.Context, id int64) (models.Loan, error)
	// LockLoan reads the loan and holds a row lock until the transaction ends
	LockLoan(ctx context.Context, id int64) (models.Loan, error)
	HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error)
	CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error)
	CountActiveLoansForMember(ctx context.Context, memberID int64) (int, error)
	// CloseLoan moves an active loan to a terminal state.
	// It fails with models.ErrLoanNotActive if the loan already left the active state.
	CloseLoan(ctx context.Context, id int64, state models.LoanState, closedOn time.Time, fine *decimal.Decimal) error
	GetLoanView(ctx context.Context, id int64) (models.LoanView, error)
	ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error)

	// Audit operations
	AppendAudit(ctx context.Context, entry models.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// Storage is a Repository that can run a group of calls atomically
type Storage interface {
	Repository

	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
