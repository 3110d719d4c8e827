package members

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/models"
	"lending/internal/storage/stubs"
	"lending/internal/validation"
)

var admin = models.Principal{ID: 1, Role: models.RoleAdmin}

func setup(t *testing.T) (*Service, *stubs.MockDB) {
	t.Helper()
	db := stubs.NewMockDB()
	log := audit.New(db, zap.NewNop())
	return NewService(db, access.NewGuard(), log, validation.New(), zap.NewNop(), bcrypt.MinCost), db
}

func ana() MemberInput {
	return MemberInput{Name: "Ana Pérez", Email: "Ana@Example.com", Password: "s3cret!", Institution: "Universidad de Chile"}
}

func TestService_RegisterAndAuthenticate(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	in := ana()
	in.Role = models.RoleAdmin // ignored for self-service
	id, err := svc.Register(ctx, in)
	require.NoError(t, err)

	member, err := db.GetMember(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, member.Role)
	assert.Equal(t, "ana@example.com", member.Email)
	assert.NotEqual(t, []byte("s3cret!"), member.PasswordHash)

	p, err := svc.Authenticate(ctx, "ANA@example.com", "s3cret!")
	require.NoError(t, err)
	assert.Equal(t, models.Principal{ID: id, Role: models.RoleMember}, p)

	_, err = svc.Authenticate(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "s3cret!")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = svc.Register(ctx, ana())
	assert.ErrorIs(t, err, models.ErrDuplicateEmail)

	entries := db.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionMemberCreated, entries[0].Action)
	assert.Equal(t, id, entries[0].ActorID)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		mod  func(*MemberInput)
	}{
		{"digits in name", func(in *MemberInput) { in.Name = "Ana 2" }},
		{"bad email", func(in *MemberInput) { in.Email = "ana-at-example" }},
		{"password with space", func(in *MemberInput) { in.Password = "two words" }},
		{"empty password", func(in *MemberInput) { in.Password = "" }},
		{"bad institution", func(in *MemberInput) { in.Institution = "U#1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ana()
			tt.mod(&in)
			_, err := svc.Register(ctx, in)
			assert.ErrorIs(t, err, models.ErrInvalidField)
		})
	}
}

func TestService_AdminOperations(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	memberID, err := svc.Register(ctx, ana())
	require.NoError(t, err)
	member := models.Principal{ID: memberID, Role: models.RoleMember}

	librarianIn := MemberInput{Name: "Laura", Email: "laura@example.com", Password: "pw", Role: models.RoleLibrarian}
	_, err = svc.Create(ctx, member, librarianIn)
	assert.ErrorIs(t, err, models.ErrForbidden)

	librarianID, err := svc.Create(ctx, admin, librarianIn)
	require.NoError(t, err)

	got, err := svc.Get(ctx, admin, librarianID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleLibrarian, got.Role)

	_, err = svc.Get(ctx, member, librarianID)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = svc.Get(ctx, member, memberID)
	assert.NoError(t, err)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	_, err = svc.List(ctx, member)
	assert.ErrorIs(t, err, models.ErrForbidden)

	// Taking another account's email
	update := librarianIn
	update.Email = "ana@example.com"
	update.Password = ""
	assert.ErrorIs(t, svc.Update(ctx, admin, librarianID, update), models.ErrDuplicateEmail)

	// Promote and keep password
	update.Email = "laura@example.com"
	update.Role = models.RoleAdmin
	require.NoError(t, svc.Update(ctx, admin, librarianID, update))
	p, err := svc.Authenticate(ctx, "laura@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)

	// Active loans block deletion
	bookID, err := db.CreateBook(ctx, models.Book{ISBN: "0000000001", Title: "T", TotalCopies: 1, Available: 1})
	require.NoError(t, err)
	loanID, err := db.CreateLoan(ctx, models.Loan{BorrowerID: memberID, BookID: bookID, State: models.LoanActive})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, admin, memberID), models.ErrHasActiveLoans)

	// A cancelled loan keeps the borrower on record
	require.NoError(t, db.CloseLoan(ctx, loanID, models.LoanCancelled, time.Now(), nil))
	assert.ErrorIs(t, svc.Delete(ctx, admin, memberID), models.ErrHasLoanHistory)
	_, err = db.GetLoan(ctx, loanID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, admin, librarianID))
	_, err = db.GetMember(ctx, librarianID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, admin, librarianID), models.ErrNotFound)
}

func TestService_EnsureAdmin(t *testing.T) {
	svc, db := setup(t)
	ctx := context.Background()

	id, err := svc.EnsureAdmin(ctx, "Administrador", "admin@example.com", "changeme")
	require.NoError(t, err)

	again, err := svc.EnsureAdmin(ctx, "Administrador", "admin@example.com", "changeme")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	member, err := db.GetMember(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, member.Role)

	entries := db.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.SystemPrincipal.ID, entries[0].ActorID)
}
