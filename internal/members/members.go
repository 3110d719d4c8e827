// Package members manages library accounts and verifies their credentials.
package members

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/models"
	"lending/internal/storage"
	"lending/internal/validation"
)

// MemberInput is the editable part of an account. On update, an empty
// Password keeps the current one and an empty Role keeps the current role.
type MemberInput struct {
	Name        string      `json:"name" validate:"required,personname"`
	Email       string      `json:"email" validate:"required,email"`
	Password    string      `json:"password" validate:"omitempty,nospaces,max=72"`
	Role        models.Role `json:"role" validate:"omitempty,oneof=member librarian administrator"`
	Institution string      `json:"institution" validate:"omitempty,personname"`
}

func (in MemberInput) normalized() MemberInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Institution = strings.TrimSpace(in.Institution)
	return in
}

// compared against when the email is unknown so both paths cost one bcrypt check
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("lending-dummy-password"), bcrypt.MinCost)

// Service manages member accounts
type Service struct {
	store     storage.Storage
	guard     *access.Guard
	audit     *audit.Log
	validator *validation.Validator
	logger    *zap.Logger
	cost      int
}

// NewService creates a members Service. cost <= 0 selects bcrypt.DefaultCost.
func NewService(store storage.Storage, guard *access.Guard, auditLog *audit.Log, v *validation.Validator, logger *zap.Logger, cost int) *Service {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:     store,
		guard:     guard,
		audit:     auditLog,
		validator: v,
		logger:    logger,
		cost:      cost,
	}
}

// Register creates a member account for self-service sign-up
func (s *Service) Register(ctx context.Context, in MemberInput) (int64, error) {
	in.Role = models.RoleMember
	return s.create(ctx, models.Principal{}, in)
}

// Create lets an administrator open an account with any role
func (s *Service) Create(ctx context.Context, actor models.Principal, in MemberInput) (int64, error) {
	if err := s.guard.Authorize(actor, access.ManageAccounts, access.Resource{}); err != nil {
		return 0, err
	}
	if in.Role == "" {
		in.Role = models.RoleMember
	}
	return s.create(ctx, actor, in)
}

func (s *Service) create(ctx context.Context, actor models.Principal, in MemberInput) (int64, error) {
	in = in.normalized()
	if err := s.validator.Validate(in); err != nil {
		return 0, err
	}
	if in.Password == "" {
		return 0, fmt.Errorf("password is required: %w", models.ErrInvalidField)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	var (
		id    int64
		entry models.AuditEntry
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		var err error
		id, err = repo.CreateMember(ctx, models.Member{
			Name:         in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			Role:         in.Role,
			Institution:  in.Institution,
		})
		if err != nil {
			return err
		}

		// self-registration is attributed to the new account
		actorID := actor.ID
		if actor.Role == "" {
			actorID = id
		}
		entry, err = s.audit.Record(ctx, repo, actorID, audit.ActionMemberCreated, audit.EntityMember, id,
			fmt.Sprintf("email=%s role=%s", in.Email, in.Role))
		return err
	})
	if err != nil {
		return 0, err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Member created", zap.Int64("member_id", id), zap.String("role", string(in.Role)))
	return id, nil
}

// Authenticate checks email and password and returns the account as a principal
func (s *Service) Authenticate(ctx context.Context, email, password string) (models.Principal, error) {
	member, err := s.store.GetMemberByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, models.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return models.Principal{}, models.ErrInvalidCredentials
	}
	if err != nil {
		return models.Principal{}, fmt.Errorf("failed to look up member: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(member.PasswordHash, []byte(password)); err != nil {
		return models.Principal{}, models.ErrInvalidCredentials
	}
	return member.Principal(), nil
}

// Get returns an account visible to actor: their own, or any for administrators
func (s *Service) Get(ctx context.Context, actor models.Principal, id int64) (models.Member, error) {
	if actor.ID != id {
		if err := s.guard.Authorize(actor, access.ManageAccounts, access.Resource{}); err != nil {
			return models.Member{}, err
		}
	}
	return s.store.GetMember(ctx, id)
}

// List returns every account ordered by id
func (s *Service) List(ctx context.Context, actor models.Principal) ([]models.Member, error) {
	if err := s.guard.Authorize(actor, access.ManageAccounts, access.Resource{}); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx)
}

// Update replaces an account's profile, and optionally its password and role
func (s *Service) Update(ctx context.Context, actor models.Principal, id int64, in MemberInput) error {
	if err := s.guard.Authorize(actor, access.ManageAccounts, access.Resource{}); err != nil {
		return err
	}
	in = in.normalized()
	if err := s.validator.Validate(in); err != nil {
		return err
	}

	var hash []byte
	if in.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(in.Password), s.cost); err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
	}

	var entry models.AuditEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		member, err := repo.GetMember(ctx, id)
		if err != nil {
			return err
		}

		if !strings.EqualFold(member.Email, in.Email) {
			other, err := repo.GetMemberByEmail(ctx, in.Email)
			switch {
			case err == nil && other.ID != id:
				return fmt.Errorf("email %s: %w", in.Email, models.ErrDuplicateEmail)
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return err
			}
		}

		member.Name = in.Name
		member.Email = in.Email
		member.Institution = in.Institution
		if in.Role != "" {
			member.Role = in.Role
		}
		if hash != nil {
			member.PasswordHash = hash
		}
		if err := repo.UpdateMember(ctx, member); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionMemberUpdated, audit.EntityMember, id,
			fmt.Sprintf("email=%s role=%s password_changed=%t", member.Email, member.Role, hash != nil))
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Member updated", zap.Int64("member_id", id), zap.Int64("actor_id", actor.ID))
	return nil
}

// Delete removes an account that holds no active loans
func (s *Service) Delete(ctx context.Context, actor models.Principal, id int64) error {
	if err := s.guard.Authorize(actor, access.ManageAccounts, access.Resource{}); err != nil {
		return err
	}

	var entry models.AuditEntry
	err := s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		member, err := repo.GetMember(ctx, id)
		if err != nil {
			return err
		}

		active, err := repo.CountActiveLoansForMember(ctx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("member %d has %d active loans: %w", id, active, models.ErrHasActiveLoans)
		}

		if err := repo.DeleteMember(ctx, id); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionMemberDeleted, audit.EntityMember, id,
			fmt.Sprintf("email=%s", member.Email))
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Member deleted", zap.Int64("member_id", id), zap.Int64("actor_id", actor.ID))
	return nil
}

// EnsureAdmin creates an administrator account for email unless one already
// exists. It returns the account id either way.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password string) (int64, error) {
	existing, err := s.store.GetMemberByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	switch {
	case err == nil:
		if existing.Role != models.RoleAdmin {
			s.logger.Warn("Bootstrap account exists without administrator role", zap.Int64("member_id", existing.ID))
		}
		return existing.ID, nil
	case !errors.Is(err, models.ErrNotFound):
		return 0, fmt.Errorf("failed to look up admin account: %w", err)
	}

	return s.Create(ctx, models.SystemPrincipal, MemberInput{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     models.RoleAdmin,
	})
}
