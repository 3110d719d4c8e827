// Package ledger implements the loan lifecycle: issue, return with overdue
// fines, and administrative cancellation.
//
// A loan moves from active to returned or cancelled exactly once. Every
// transition runs in one storage transaction that also adjusts the book's
// availability and appends the audit entry, so either all of it commits or
// none of it does.
package ledger

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/metrics"
	"lending/internal/models"
	"lending/internal/rates"
	"lending/internal/storage"
)

const (
	MinDurationDays = 1
	MaxDurationDays = 14
)

// DefaultFinePerDay is the fraction of the daily indicator charged per day late
var DefaultFinePerDay = decimal.RequireFromString("0.01")

// ReturnReceipt describes a completed return
type ReturnReceipt struct {
	Loan     models.Loan `json:"loan"`
	DaysLate int         `json:"days_late"`
	// Fine is nil when the loan was late and the indicator could not be read
	Fine          *decimal.Decimal `json:"fine,omitempty"`
	FineAvailable bool             `json:"fine_available"`
	Rate          float64          `json:"rate,omitempty"`
}

// Service is the loan ledger
type Service struct {
	store      storage.Storage
	guard      *access.Guard
	audit      *audit.Log
	rates      rates.Source
	rateCode   string
	finePerDay decimal.Decimal
	now        func() time.Time
	logger     *zap.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the source of "today"
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithFinePerDay overrides the per-day fine fraction
func WithFinePerDay(rate decimal.Decimal) Option {
	return func(s *Service) {
		s.finePerDay = rate
	}
}

// WithIndicator selects the indicator code used to price fines
func WithIndicator(code string) Option {
	return func(s *Service) {
		if code != "" {
			s.rateCode = code
		}
	}
}

// NewService creates a ledger Service
func NewService(store storage.Storage, guard *access.Guard, auditLog *audit.Log, source rates.Source, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		guard:      guard,
		audit:      auditLog,
		rates:      source,
		rateCode:   rates.DefaultCode,
		finePerDay: DefaultFinePerDay,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) today() time.Time {
	return models.Day(s.now())
}

// IssueLoan checks a copy of bookID out to borrowerID for durationDays
func (s *Service) IssueLoan(ctx context.Context, actor models.Principal, borrowerID, bookID int64, durationDays int) (loanID int64, err error) {
	defer func() { metrics.LoanOperations.WithLabelValues("issue", metrics.Outcome(err)).Inc() }()

	if durationDays < MinDurationDays || durationDays > MaxDurationDays {
		return 0, fmt.Errorf("duration %d: %w", durationDays, models.ErrInvalidDuration)
	}
	if err := s.guard.Authorize(actor, access.IssueLoan, access.Owned(borrowerID)); err != nil {
		return 0, err
	}

	today := s.today()
	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		borrower, err := repo.GetMember(ctx, borrowerID)
		if err != nil {
			return err
		}
		if !access.CanBorrow(borrower.Role) {
			return fmt.Errorf("%s accounts cannot borrow: %w", borrower.Role, models.ErrForbidden)
		}

		book, err := repo.LockBook(ctx, bookID)
		if err != nil {
			return err
		}

		has, err := repo.HasActiveLoan(ctx, borrowerID, bookID)
		if err != nil {
			return err
		}
		if has {
			return fmt.Errorf("borrower %d, book %d: %w", borrowerID, bookID, models.ErrDuplicateActiveLoan)
		}
		if book.Available <= 0 {
			return fmt.Errorf("book %d: %w", bookID, models.ErrNoCopiesAvailable)
		}

		loanID, err = repo.CreateLoan(ctx, models.Loan{
			BorrowerID:   borrowerID,
			BookID:       bookID,
			DurationDays: durationDays,
			IssuedOn:     today,
			DueOn:        today.AddDate(0, 0, durationDays),
			State:        models.LoanActive,
		})
		if err != nil {
			return err
		}
		if err := repo.DecrementAvailability(ctx, bookID); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionLoanCreated, audit.EntityLoan, loanID,
			fmt.Sprintf("book=%d borrower=%d days=%d due=%s", bookID, borrowerID, durationDays, today.AddDate(0, 0, durationDays).Format(time.DateOnly)))
		return err
	})
	if err != nil {
		return 0, err
	}

	s.audit.Publish(ctx, entry)
	metrics.ActiveLoans.Inc()
	s.logger.Info("Loan issued",
		zap.Int64("loan_id", loanID),
		zap.Int64("book_id", bookID),
		zap.Int64("borrower_id", borrowerID),
		zap.Int("duration_days", durationDays),
		zap.Int64("actor_id", actor.ID))
	return loanID, nil
}

// ReturnLoan closes an active loan, pricing a fine when it is overdue. The
// return succeeds even when the indicator is unavailable; the receipt then
// reports the fine as unavailable.
func (s *Service) ReturnLoan(ctx context.Context, actor models.Principal, loanID int64) (receipt ReturnReceipt, err error) {
	defer func() { metrics.LoanOperations.WithLabelValues("return", metrics.Outcome(err)).Inc() }()

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return ReturnReceipt{}, err
	}
	if !loan.Active() {
		return ReturnReceipt{}, fmt.Errorf("loan %d is %s: %w", loanID, loan.State, models.ErrLoanNotActive)
	}
	if err := s.guard.Authorize(actor, access.ReturnLoan, access.Owned(loan.BorrowerID)); err != nil {
		return ReturnReceipt{}, err
	}

	today := s.today()
	receipt.DaysLate = max(0, models.DaysBetween(loan.DueOn, today))
	receipt.FineAvailable = true
	zero := decimal.Zero
	receipt.Fine = &zero

	// outside the transaction so no row lock is held across the network call
	if receipt.DaysLate > 0 {
		rate, err := s.rates.DailyRate(ctx, s.rateCode)
		if err != nil {
			s.logger.Warn("Fine unavailable, returning without it",
				zap.Int64("loan_id", loanID),
				zap.Int("days_late", receipt.DaysLate),
				zap.Error(err))
			metrics.FinesUnavailable.Inc()
			receipt.Fine = nil
			receipt.FineAvailable = false
		} else {
			fine := s.computeFine(receipt.DaysLate, rate)
			receipt.Fine = &fine
			receipt.Rate = rate
		}
	}

	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		locked, err := repo.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !locked.Active() {
			return fmt.Errorf("loan %d is %s: %w", loanID, locked.State, models.ErrLoanNotActive)
		}

		if err := repo.CloseLoan(ctx, loanID, models.LoanReturned, today, receipt.Fine); err != nil {
			return err
		}
		if err := repo.IncrementAvailability(ctx, locked.BookID); err != nil {
			return err
		}

		fineDetail := "multa no disponible"
		if receipt.Fine != nil {
			fineDetail = "multa=" + receipt.Fine.StringFixed(2)
		}
		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionLoanReturned, audit.EntityLoan, loanID,
			fmt.Sprintf("book=%d borrower=%d days_late=%d %s", locked.BookID, locked.BorrowerID, receipt.DaysLate, fineDetail))
		if err != nil {
			return err
		}

		receipt.Loan, err = repo.GetLoan(ctx, loanID)
		return err
	})
	if err != nil {
		return ReturnReceipt{}, err
	}

	s.audit.Publish(ctx, entry)
	metrics.ActiveLoans.Dec()
	fields := []zap.Field{
		zap.Int64("loan_id", loanID),
		zap.Int("days_late", receipt.DaysLate),
		zap.Bool("fine_available", receipt.FineAvailable),
		zap.Int64("actor_id", actor.ID),
	}
	if receipt.Fine != nil {
		fields = append(fields, zap.Stringer("fine", receipt.Fine))
	}
	s.logger.Info("Loan returned", fields...)
	return receipt, nil
}

func (s *Service) computeFine(daysLate int, rate float64) decimal.Decimal {
	return decimal.NewFromInt(int64(daysLate)).
		Mul(s.finePerDay).
		Mul(decimal.NewFromFloat(rate))
}

// ForceCancelLoan voids an active loan and puts its copy back on the shelf
func (s *Service) ForceCancelLoan(ctx context.Context, actor models.Principal, loanID int64) (err error) {
	defer func() { metrics.LoanOperations.WithLabelValues("cancel", metrics.Outcome(err)).Inc() }()

	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if err := s.guard.Authorize(actor, access.CancelLoan, access.Owned(loan.BorrowerID)); err != nil {
		return err
	}

	today := s.today()
	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		locked, err := repo.LockLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if !locked.Active() {
			return fmt.Errorf("loan %d is %s: %w", loanID, locked.State, models.ErrLoanNotActive)
		}

		if err := repo.CloseLoan(ctx, loanID, models.LoanCancelled, today, nil); err != nil {
			return err
		}
		if err := repo.IncrementAvailability(ctx, locked.BookID); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionLoanCancelled, audit.EntityLoan, loanID,
			fmt.Sprintf("book=%d borrower=%d", locked.BookID, locked.BorrowerID))
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	metrics.ActiveLoans.Dec()
	s.logger.Info("Loan cancelled", zap.Int64("loan_id", loanID), zap.Int64("actor_id", actor.ID))
	return nil
}

// GetLoan returns a loan visible to actor
func (s *Service) GetLoan(ctx context.Context, actor models.Principal, loanID int64) (models.LoanView, error) {
	view, err := s.store.GetLoanView(ctx, loanID)
	if err != nil {
		return models.LoanView{}, err
	}
	if err := s.guard.Authorize(actor, access.ViewLoans, access.Owned(view.BorrowerID)); err != nil {
		return models.LoanView{}, err
	}
	return s.annotate(view), nil
}

// ListLoansForBorrower returns a borrower's loans ordered by due date
func (s *Service) ListLoansForBorrower(ctx context.Context, actor models.Principal, borrowerID int64, activeOnly bool) (iter.Seq[models.LoanView], error) {
	if err := s.guard.Authorize(actor, access.ViewLoans, access.Owned(borrowerID)); err != nil {
		return nil, err
	}
	return s.list(ctx, models.LoanFilter{BorrowerID: borrowerID, ActiveOnly: activeOnly})
}

// ListAllActiveLoans returns every outstanding loan ordered by due date
func (s *Service) ListAllActiveLoans(ctx context.Context, actor models.Principal) (iter.Seq[models.LoanView], error) {
	if err := s.guard.Authorize(actor, access.ViewAllLoans, access.Resource{}); err != nil {
		return nil, err
	}
	return s.list(ctx, models.LoanFilter{ActiveOnly: true})
}

func (s *Service) list(ctx context.Context, filter models.LoanFilter) (iter.Seq[models.LoanView], error) {
	views, err := s.store.ListLoans(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	for i := range views {
		views[i] = s.annotate(views[i])
	}
	return slices.Values(views), nil
}

func (s *Service) annotate(v models.LoanView) models.LoanView {
	v.DaysRemaining = models.DaysBetween(s.today(), v.DueOn)
	return v
}
