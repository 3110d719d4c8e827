package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the permission level of a member account
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "administrator"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleLibrarian, RoleAdmin:
		return true
	}
	return false
}

// Principal is an authenticated actor calling into the core
type Principal struct {
	ID   int64
	Role Role
}

// SystemPrincipal is used by operator tooling that runs outside a user session
var SystemPrincipal = Principal{ID: 0, Role: RoleAdmin}

// Book represents a title in the catalog
type Book struct {
	ID          int64  `json:"id"`
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Year        int    `json:"year"`
	TotalCopies int    `json:"total_copies"`
	Available   int    `json:"available"` // copies currently not on loan
}

// Member represents a library account
type Member struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"-"`
	Role         Role      `json:"role"`
	Institution  string    `json:"institution,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal returns the member as an authenticated actor
func (m Member) Principal() Principal {
	return Principal{ID: m.ID, Role: m.Role}
}

// LoanState is the lifecycle state of a loan
type LoanState string

const (
	LoanActive    LoanState = "active"
	LoanReturned  LoanState = "returned"
	LoanCancelled LoanState = "cancelled"
)

// Loan is a copy checked out to a borrower
type Loan struct {
	ID           int64            `json:"id"`
	BorrowerID   int64            `json:"borrower_id"`
	BookID       int64            `json:"book_id"`
	DurationDays int              `json:"duration_days"`
	IssuedOn     time.Time        `json:"issued_on"`
	DueOn        time.Time        `json:"due_on"`
	State        LoanState        `json:"state"`
	ReturnedOn   *time.Time       `json:"returned_on,omitempty"`
	Fine         *decimal.Decimal `json:"fine,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Active reports whether the loan is still outstanding
func (l Loan) Active() bool {
	return l.State == LoanActive
}

// LoanView is a loan annotated for display. DaysRemaining is computed on read.
type LoanView struct {
	Loan
	BookTitle     string `json:"book_title"`
	BorrowerName  string `json:"borrower_name"`
	DaysRemaining int    `json:"days_remaining"`
}

// Overdue reports whether the due date has passed
func (v LoanView) Overdue() bool {
	return v.DaysRemaining < 0
}

// LoanFilter selects loans for listing
type LoanFilter struct {
	BorrowerID int64 // zero means any borrower
	ActiveOnly bool
}

// AuditEntry is an immutable record of a state-changing action
type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   int64     `json:"actor_id"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  int64     `json:"entity_id"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
