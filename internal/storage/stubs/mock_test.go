package stubs

import (
	"context"
	"errors"
	"testing"
	"time"

	"lending/internal/models"
	"lending/internal/storage"
)

func newBook(isbn string, copies int) models.Book {
	return models.Book{
		ISBN:        isbn,
		Title:       "Brief History",
		Author:      "Stephen Hawking",
		Genre:       "Ciencia",
		Year:        1988,
		TotalCopies: copies,
		Available:   copies,
	}
}

func TestMockDB_CreateBook(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if err := db.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}

	id, err := db.CreateBook(ctx, newBook("9780553380163", 2))
	if err != nil {
		t.Fatalf("Failed to create book: %v", err)
	}
	if id == 0 {
		t.Fatal("Expected non-zero book ID")
	}

	book, err := db.GetBook(ctx, id)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if book.Available != 2 {
		t.Errorf("Expected 2 available copies, got %d", book.Available)
	}

	// Same ISBN again
	_, err = db.CreateBook(ctx, newBook("9780553380163", 1))
	if !errors.Is(err, models.ErrDuplicateISBN) {
		t.Errorf("Expected ErrDuplicateISBN, got %v", err)
	}
}

func TestMockDB_ListBooks(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	_, _ = db.CreateBook(ctx, newBook("0000000001", 1))
	_, _ = db.CreateBook(ctx, newBook("0000000002", 0))
	_, _ = db.CreateBook(ctx, newBook("0000000003", 3))

	all, err := db.ListBooks(ctx, false)
	if err != nil {
		t.Fatalf("Failed to list books: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 books, got %d", len(all))
	}
	for i := 0; i < len(all)-1; i++ {
		if all[i].ID > all[i+1].ID {
			t.Error("Expected books to be sorted by id")
			break
		}
	}

	available, err := db.ListBooks(ctx, true)
	if err != nil {
		t.Fatalf("Failed to list available books: %v", err)
	}
	if len(available) != 2 {
		t.Errorf("Expected 2 available books, got %d", len(available))
	}
}

func TestMockDB_Availability(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	id, _ := db.CreateBook(ctx, newBook("0000000001", 1))

	if err := db.DecrementAvailability(ctx, id); err != nil {
		t.Fatalf("Failed to decrement: %v", err)
	}
	if err := db.DecrementAvailability(ctx, id); !errors.Is(err, models.ErrNoCopiesAvailable) {
		t.Errorf("Expected ErrNoCopiesAvailable, got %v", err)
	}

	if err := db.IncrementAvailability(ctx, id); err != nil {
		t.Fatalf("Failed to increment: %v", err)
	}
	// Never above the total
	if err := db.IncrementAvailability(ctx, id); err != nil {
		t.Fatalf("Failed to increment: %v", err)
	}
	book, _ := db.GetBook(ctx, id)
	if book.Available != 1 {
		t.Errorf("Expected 1 available copy, got %d", book.Available)
	}
}

func TestMockDB_WithinTxRollsBack(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	id, _ := db.CreateBook(ctx, newBook("0000000001", 1))
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		if err := repo.DecrementAvailability(ctx, id); err != nil {
			return err
		}
		if _, err := repo.CreateLoan(ctx, models.Loan{BorrowerID: 1, BookID: id, State: models.LoanActive}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	book, _ := db.GetBook(ctx, id)
	if book.Available != 1 {
		t.Errorf("Expected availability to be restored, got %d", book.Available)
	}
	loans, _ := db.ListLoans(ctx, models.LoanFilter{})
	if len(loans) != 0 {
		t.Errorf("Expected no loans after rollback, got %d", len(loans))
	}
}

func TestMockDB_Loans(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	bookID, _ := db.CreateBook(ctx, newBook("0000000001", 2))
	memberID, _ := db.CreateMember(ctx, models.Member{Name: "Ana", Email: "ana@example.com", Role: models.RoleMember})

	today := models.Day(time.Now())
	loan := models.Loan{
		BorrowerID:   memberID,
		BookID:       bookID,
		DurationDays: 7,
		IssuedOn:     today,
		DueOn:        today.AddDate(0, 0, 7),
		State:        models.LoanActive,
	}
	loanID, err := db.CreateLoan(ctx, loan)
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}

	if _, err := db.CreateLoan(ctx, loan); !errors.Is(err, models.ErrDuplicateActiveLoan) {
		t.Errorf("Expected ErrDuplicateActiveLoan, got %v", err)
	}

	has, _ := db.HasActiveLoan(ctx, memberID, bookID)
	if !has {
		t.Error("Expected an active loan")
	}

	views, _ := db.ListLoans(ctx, models.LoanFilter{BorrowerID: memberID, ActiveOnly: true})
	if len(views) != 1 || views[0].BookTitle != "Brief History" || views[0].BorrowerName != "Ana" {
		t.Errorf("Unexpected loan views: %+v", views)
	}

	view, err := db.GetLoanView(ctx, loanID)
	if err != nil || view.ID != loanID || view.BookTitle != "Brief History" || view.BorrowerName != "Ana" {
		t.Errorf("Unexpected loan view: %+v (%v)", view, err)
	}
	if _, err := db.GetLoanView(ctx, 999); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := db.CloseLoan(ctx, loanID, models.LoanReturned, today, nil); err != nil {
		t.Fatalf("Failed to close loan: %v", err)
	}
	if err := db.CloseLoan(ctx, loanID, models.LoanReturned, today, nil); !errors.Is(err, models.ErrLoanNotActive) {
		t.Errorf("Expected ErrLoanNotActive, got %v", err)
	}

	views, _ = db.ListLoans(ctx, models.LoanFilter{BorrowerID: memberID, ActiveOnly: true})
	if len(views) != 0 {
		t.Errorf("Expected no active loans, got %d", len(views))
	}
}

func TestMockDB_DeleteKeepsLoanHistory(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	bookID, _ := db.CreateBook(ctx, newBook("0000000001", 1))
	memberID, _ := db.CreateMember(ctx, models.Member{Name: "Ana", Email: "ana@example.com", Role: models.RoleMember})
	today := models.Day(time.Now())
	loanID, err := db.CreateLoan(ctx, models.Loan{
		BorrowerID: memberID, BookID: bookID, DurationDays: 7,
		IssuedOn: today, DueOn: today.AddDate(0, 0, 7), State: models.LoanActive,
	})
	if err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	if err := db.CloseLoan(ctx, loanID, models.LoanReturned, today, nil); err != nil {
		t.Fatalf("Failed to close loan: %v", err)
	}

	if err := db.DeleteBook(ctx, bookID); !errors.Is(err, models.ErrHasLoanHistory) {
		t.Errorf("Expected ErrHasLoanHistory deleting book, got %v", err)
	}
	if err := db.DeleteMember(ctx, memberID); !errors.Is(err, models.ErrHasLoanHistory) {
		t.Errorf("Expected ErrHasLoanHistory deleting member, got %v", err)
	}
	if _, err := db.GetLoan(ctx, loanID); err != nil {
		t.Errorf("Expected loan to survive, got %v", err)
	}

	otherID, _ := db.CreateBook(ctx, newBook("0000000002", 1))
	if err := db.DeleteBook(ctx, otherID); err != nil {
		t.Errorf("Failed to delete unreferenced book: %v", err)
	}
}

func TestMockDB_RecentAudit_Limit(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := models.AuditEntry{ID: string(rune('a' + i)), Action: "TEST", CreatedAt: time.Now()}
		if err := db.AppendAudit(ctx, entry); err != nil {
			t.Fatalf("Failed to append audit: %v", err)
		}
	}

	entries, err := db.RecentAudit(ctx, 3)
	if err != nil {
		t.Fatalf("Failed to get recent audit: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "e" {
		t.Errorf("Expected newest entry first, got %s", entries[0].ID)
	}
}
