package pg

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/ledger"
	"lending/internal/models"
)

type flatRate float64

func (r flatRate) DailyRate(context.Context, string) (float64, error) {
	return float64(r), nil
}

func newLedger(db *PostgresDB) *ledger.Service {
	return ledger.NewService(db, access.NewGuard(), audit.New(db, zap.NewNop()), flatRate(1000), zap.NewNop())
}

// TestLedger_ConcurrentIssueLastCopy races borrowers through the ledger for a single copy
func TestLedger_ConcurrentIssueLastCopy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	_, bookID := seed(t, db, 1)
	svc := newLedger(db)

	const borrowers = 8
	principals := make([]models.Principal, borrowers)
	for i := range principals {
		id, err := db.CreateMember(ctx, models.Member{
			Name:         "Borrower",
			Email:        fmt.Sprintf("borrower-%d@example.com", i),
			PasswordHash: []byte("hash"),
			Role:         models.RoleMember,
		})
		require.NoError(t, err)
		principals[i] = models.Principal{ID: id, Role: models.RoleMember}
	}

	var wg sync.WaitGroup
	errs := make([]error, borrowers)
	for i, p := range principals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.IssueLoan(ctx, p, p.ID, bookID, 7)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrNoCopiesAvailable)
	}
	assert.Equal(t, 1, succeeded)

	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, book.Available)

	active, err := db.CountActiveLoansForBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
}

// TestLedger_ConcurrentReturnClosesOnce returns the same loan from many goroutines
func TestLedger_ConcurrentReturnClosesOnce(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	memberID, bookID := seed(t, db, 2)
	svc := newLedger(db)
	borrower := models.Principal{ID: memberID, Role: models.RoleMember}

	loanID, err := svc.IssueLoan(ctx, borrower, memberID, bookID, 7)
	require.NoError(t, err)

	const returners = 8
	var wg sync.WaitGroup
	errs := make([]error, returners)
	for i := range returners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ReturnLoan(ctx, borrower, loanID)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrLoanNotActive)
	}
	assert.Equal(t, 1, succeeded)

	book, err := db.GetBook(ctx, bookID)
	require.NoError(t, err)
	assert.Equal(t, 2, book.Available)

	entries, err := db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	returns := 0
	for _, e := range entries {
		if e.Action == audit.ActionLoanReturned {
			returns++
		}
	}
	assert.Equal(t, 1, returns)
}
