package stubs

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lending/internal/models"
	"lending/internal/storage"
)

// MockDB is an in-memory implementation of the Storage interface for testing.
// Transactions are serialized by txMu and rolled back by restoring a snapshot.
type MockDB struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	books    map[int64]models.Book
	members  map[int64]models.Member
	loans    map[int64]models.Loan
	audit    []models.AuditEntry
	nextBook int64
	nextMem  int64
	nextLoan int64

	auditErr error
}

var _ storage.Storage = (*MockDB)(nil)

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		books:   make(map[int64]models.Book),
		members: make(map[int64]models.Member),
		loans:   make(map[int64]models.Loan),
		audit:   make([]models.AuditEntry, 0),
	}
}

// Initialize is a no-op; the mock has no schema
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

type snapshot struct {
	books    map[int64]models.Book
	members  map[int64]models.Member
	loans    map[int64]models.Loan
	auditLen int
	nextBook int64
	nextMem  int64
	nextLoan int64
}

func (m *MockDB) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot{
		books:    maps.Clone(m.books),
		members:  maps.Clone(m.members),
		loans:    maps.Clone(m.loans),
		auditLen: len(m.audit),
		nextBook: m.nextBook,
		nextMem:  m.nextMem,
		nextLoan: m.nextLoan,
	}
}

func (m *MockDB) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books = s.books
	m.members = s.members
	m.loans = s.loans
	m.audit = m.audit[:s.auditLen]
	m.nextBook = s.nextBook
	m.nextMem = s.nextMem
	m.nextLoan = s.nextLoan
}

// WithinTx serializes fn against other transactions and undoes its writes on error
func (m *MockDB) WithinTx(ctx context.Context, fn func(ctx context.Context, repo storage.Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := m.snapshot()
	if err := fn(ctx, m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// InjectAuditError makes every following AppendAudit fail with err (nil clears it)
func (m *MockDB) InjectAuditError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditErr = err
}

// BackdateLoan rewrites the dates of a loan; used to build overdue fixtures
func (m *MockDB) BackdateLoan(id int64, issuedOn, dueOn time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok {
		return fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	loan.IssuedOn = models.Day(issuedOn)
	loan.DueOn = models.Day(dueOn)
	m.loans[id] = loan
	return nil
}

// AuditEntries returns a copy of every recorded entry in insertion order
func (m *MockDB) AuditEntries() []models.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// CreateBook stores a new book and returns its id
func (m *MockDB) CreateBook(ctx context.Context, book models.Book) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range m.books {
		if b.ISBN == book.ISBN {
			return 0, fmt.Errorf("isbn %s: %w", book.ISBN, models.ErrDuplicateISBN)
		}
	}

	m.nextBook++
	book.ID = m.nextBook
	m.books[book.ID] = book
	return book.ID, nil
}

// GetBook returns the book with the given id
func (m *MockDB) GetBook(ctx context.Context, id int64) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return models.Book{}, fmt.Errorf("book %d: %w", id, models.ErrNotFound)
	}
	return book, nil
}

// LockBook is GetBook; WithinTx already serializes writers
func (m *MockDB) LockBook(ctx context.Context, id int64) (models.Book, error) {
	return m.GetBook(ctx, id)
}

// FindBookByISBN returns the book registered under isbn
func (m *MockDB) FindBookByISBN(ctx context.Context, isbn string) (models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.books {
		if b.ISBN == isbn {
			return b, nil
		}
	}
	return models.Book{}, fmt.Errorf("isbn %s: %w", isbn, models.ErrNotFound)
}

// UpdateBook replaces the stored book
func (m *MockDB) UpdateBook(ctx context.Context, book models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[book.ID]; !ok {
		return fmt.Errorf("book %d: %w", book.ID, models.ErrNotFound)
	}
	for _, b := range m.books {
		if b.ISBN == book.ISBN && b.ID != book.ID {
			return fmt.Errorf("isbn %s: %w", book.ISBN, models.ErrDuplicateISBN)
		}
	}
	m.books[book.ID] = book
	return nil
}

// DeleteBook removes a book that no loan references
func (m *MockDB) DeleteBook(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[id]; !ok {
		return fmt.Errorf("book %d: %w", id, models.ErrNotFound)
	}
	if m.referenced(func(l models.Loan) bool { return l.BookID == id }) {
		return fmt.Errorf("book %d: %w", id, models.ErrHasLoanHistory)
	}
	delete(m.books, id)
	return nil
}

// ListBooks returns books ordered by id
func (m *MockDB) ListBooks(ctx context.Context, availableOnly bool) ([]models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var books []models.Book
	for _, book := range m.books {
		if availableOnly && book.Available <= 0 {
			continue
		}
		books = append(books, book)
	}

	sort.Slice(books, func(i, j int) bool {
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// SearchBooks returns books whose title contains the query, case-insensitively
func (m *MockDB) SearchBooks(ctx context.Context, title string) ([]models.Book, error) {
	all, err := m.ListBooks(ctx, false)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(title)
	var books []models.Book
	for _, b := range all {
		if strings.Contains(strings.ToLower(b.Title), needle) {
			books = append(books, b)
		}
	}
	return books, nil
}

// DecrementAvailability takes one copy off the shelf
func (m *MockDB) DecrementAvailability(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book %d: %w", id, models.ErrNotFound)
	}
	if book.Available <= 0 {
		return fmt.Errorf("book %d: %w", id, models.ErrNoCopiesAvailable)
	}
	book.Available--
	m.books[id] = book
	return nil
}

// IncrementAvailability puts one copy back on the shelf
func (m *MockDB) IncrementAvailability(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return fmt.Errorf("book %d: %w", id, models.ErrNotFound)
	}
	if book.Available < book.TotalCopies {
		book.Available++
	}
	m.books[id] = book
	return nil
}

// CreateMember stores a new member and returns its id
func (m *MockDB) CreateMember(ctx context.Context, member models.Member) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.members {
		if strings.EqualFold(existing.Email, member.Email) {
			return 0, fmt.Errorf("email %s: %w", member.Email, models.ErrDuplicateEmail)
		}
	}

	m.nextMem++
	member.ID = m.nextMem
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	m.members[member.ID] = member
	return member.ID, nil
}

// GetMember returns the member with the given id
func (m *MockDB) GetMember(ctx context.Context, id int64) (models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[id]
	if !ok {
		return models.Member{}, fmt.Errorf("member %d: %w", id, models.ErrNotFound)
	}
	return member, nil
}

// GetMemberByEmail returns the member registered under email
func (m *MockDB) GetMemberByEmail(ctx context.Context, email string) (models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, member := range m.members {
		if strings.EqualFold(member.Email, email) {
			return member, nil
		}
	}
	return models.Member{}, fmt.Errorf("email %s: %w", email, models.ErrNotFound)
}

// UpdateMember replaces the stored member
func (m *MockDB) UpdateMember(ctx context.Context, member models.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[member.ID]; !ok {
		return fmt.Errorf("member %d: %w", member.ID, models.ErrNotFound)
	}
	for _, existing := range m.members {
		if strings.EqualFold(existing.Email, member.Email) && existing.ID != member.ID {
			return fmt.Errorf("email %s: %w", member.Email, models.ErrDuplicateEmail)
		}
	}
	m.members[member.ID] = member
	return nil
}

// DeleteMember removes a member that no loan references
func (m *MockDB) DeleteMember(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.members[id]; !ok {
		return fmt.Errorf("member %d: %w", id, models.ErrNotFound)
	}
	if m.referenced(func(l models.Loan) bool { return l.BorrowerID == id }) {
		return fmt.Errorf("member %d: %w", id, models.ErrHasLoanHistory)
	}
	delete(m.members, id)
	return nil
}

// referenced reports whether any loan matches; callers hold the lock
func (m *MockDB) referenced(match func(models.Loan) bool) bool {
	for _, l := range m.loans {
		if match(l) {
			return true
		}
	}
	return false
}

// ListMembers returns members ordered by id
func (m *MockDB) ListMembers(ctx context.Context) ([]models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make([]models.Member, 0, len(m.members))
	for _, member := range m.members {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].ID < members[j].ID
	})
	return members, nil
}

// CreateLoan stores a new loan and returns its id
func (m *MockDB) CreateLoan(ctx context.Context, loan models.Loan) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if loan.Active() {
		for _, existing := range m.loans {
			if existing.Active() && existing.BorrowerID == loan.BorrowerID && existing.BookID == loan.BookID {
				return 0, fmt.Errorf("borrower %d book %d: %w", loan.BorrowerID, loan.BookID, models.ErrDuplicateActiveLoan)
			}
		}
	}

	m.nextLoan++
	loan.ID = m.nextLoan
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = time.Now().UTC()
	}
	m.loans[loan.ID] = loan
	return loan.ID, nil
}

// GetLoan returns the loan with the given id
func (m *MockDB) GetLoan(ctx context.Context, id int64) (models.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return models.Loan{}, fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	return loan, nil
}

// LockLoan is GetLoan; WithinTx already serializes writers
func (m *MockDB) LockLoan(ctx context.Context, id int64) (models.Loan, error) {
	return m.GetLoan(ctx, id)
}

// HasActiveLoan reports whether borrowerID holds an active loan on bookID
func (m *MockDB) HasActiveLoan(ctx context.Context, borrowerID, bookID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, loan := range m.loans {
		if loan.Active() && loan.BorrowerID == borrowerID && loan.BookID == bookID {
			return true, nil
		}
	}
	return false, nil
}

// CountActiveLoansForBook counts outstanding loans on a book
func (m *MockDB) CountActiveLoansForBook(ctx context.Context, bookID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, loan := range m.loans {
		if loan.Active() && loan.BookID == bookID {
			n++
		}
	}
	return n, nil
}

// CountActiveLoansForMember counts outstanding loans held by a member
func (m *MockDB) CountActiveLoansForMember(ctx context.Context, memberID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, loan := range m.loans {
		if loan.Active() && loan.BorrowerID == memberID {
			n++
		}
	}
	return n, nil
}

// CloseLoan moves an active loan to a terminal state
func (m *MockDB) CloseLoan(ctx context.Context, id int64, state models.LoanState, closedOn time.Time, fine *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loan, ok := m.loans[id]
	if !ok {
		return fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	if !loan.Active() {
		return fmt.Errorf("loan %d: %w", id, models.ErrLoanNotActive)
	}

	day := models.Day(closedOn)
	loan.State = state
	loan.ReturnedOn = &day
	loan.Fine = fine
	m.loans[id] = loan
	return nil
}

// GetLoanView returns one loan with its book title and borrower name
func (m *MockDB) GetLoanView(ctx context.Context, id int64) (models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return models.LoanView{}, fmt.Errorf("loan %d: %w", id, models.ErrNotFound)
	}
	return models.LoanView{
		Loan:         loan,
		BookTitle:    m.books[loan.BookID].Title,
		BorrowerName: m.members[loan.BorrowerID].Name,
	}, nil
}

// ListLoans returns loans matching filter ordered by due date, then id
func (m *MockDB) ListLoans(ctx context.Context, filter models.LoanFilter) ([]models.LoanView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var views []models.LoanView
	for _, loan := range m.loans {
		if filter.BorrowerID != 0 && loan.BorrowerID != filter.BorrowerID {
			continue
		}
		if filter.ActiveOnly && !loan.Active() {
			continue
		}
		views = append(views, models.LoanView{
			Loan:         loan,
			BookTitle:    m.books[loan.BookID].Title,
			BorrowerName: m.members[loan.BorrowerID].Name,
		})
	}

	sort.Slice(views, func(i, j int) bool {
		if !views[i].DueOn.Equal(views[j].DueOn) {
			return views[i].DueOn.Before(views[j].DueOn)
		}
		return views[i].ID < views[j].ID
	})
	return views, nil
}

// AppendAudit records an audit entry
func (m *MockDB) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.auditErr != nil {
		return m.auditErr
	}
	m.audit = append(m.audit, entry)
	return nil
}

// RecentAudit returns the last N entries, newest first
func (m *MockDB) RecentAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}

	out := make([]models.AuditEntry, 0, limit)
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
