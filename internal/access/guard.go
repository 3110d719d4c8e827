// Package access decides which principal may perform which action.
// Permissions are a static table keyed by role.
package access

import (
	"fmt"

	"lending/internal/models"
)

// Action is an operation a principal asks to perform
type Action string

const (
	ViewCatalog    Action = "view_catalog"
	ManageCatalog  Action = "manage_catalog"
	IssueLoan      Action = "issue_loan"
	ReturnLoan     Action = "return_loan"
	CancelLoan     Action = "cancel_loan"
	ViewLoans      Action = "view_loans"
	ViewAllLoans   Action = "view_all_loans"
	ManageAccounts Action = "manage_accounts"
	ReadAudit      Action = "read_audit"
)

// scope limits a grant to resources the principal owns
type scope int

const (
	own scope = iota + 1
	all
)

var table = map[models.Role]map[Action]scope{
	models.RoleMember: {
		ViewCatalog: all,
		IssueLoan:   own,
		ReturnLoan:  own,
		ViewLoans:   own,
	},
	models.RoleLibrarian: {
		ViewCatalog:   all,
		ManageCatalog: all,
		IssueLoan:     all,
		ReturnLoan:    all,
		CancelLoan:    all,
		ViewLoans:     all,
		ViewAllLoans:  all,
	},
	models.RoleAdmin: {
		ViewCatalog:    all,
		ManageCatalog:  all,
		IssueLoan:      all,
		ReturnLoan:     all,
		CancelLoan:     all,
		ViewLoans:      all,
		ViewAllLoans:   all,
		ManageAccounts: all,
		ReadAudit:      all,
	},
}

// Resource describes what an action targets. OwnerID is the member the
// resource belongs to, zero when the resource has no owner.
type Resource struct {
	OwnerID int64
}

// Owned returns a resource belonging to memberID
func Owned(memberID int64) Resource {
	return Resource{OwnerID: memberID}
}

// Guard evaluates the role table
type Guard struct{}

// NewGuard creates a Guard
func NewGuard() *Guard {
	return &Guard{}
}

// Authorize returns nil when p may perform action on res, models.ErrForbidden otherwise
func (g *Guard) Authorize(p models.Principal, action Action, res Resource) error {
	grants, ok := table[p.Role]
	if !ok {
		return fmt.Errorf("unknown role %q: %w", p.Role, models.ErrForbidden)
	}

	switch grants[action] {
	case all:
		return nil
	case own:
		if res.OwnerID != 0 && res.OwnerID == p.ID {
			return nil
		}
	}
	return fmt.Errorf("%s may not %s: %w", p.Role, action, models.ErrForbidden)
}

// Allowed is Authorize as a boolean
func (g *Guard) Allowed(p models.Principal, action Action, res Resource) bool {
	return g.Authorize(p, action, res) == nil
}

// CanBorrow reports whether accounts with role may hold loans
func CanBorrow(role models.Role) bool {
	return role == models.RoleMember
}
