// Package catalog manages the book inventory on behalf of authenticated principals.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"go.uber.org/zap"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/metrics"
	"lending/internal/models"
	"lending/internal/storage"
	"lending/internal/validation"
)

// BookInput is the editable part of a book
type BookInput struct {
	ISBN        string `json:"isbn" validate:"required,bookisbn"`
	Title       string `json:"title" validate:"required,booktitle"`
	Author      string `json:"author" validate:"required,personname"`
	Genre       string `json:"genre" validate:"required,personname"`
	Year        int    `json:"year" validate:"bookyear"`
	TotalCopies int    `json:"total_copies" validate:"gte=0"`
}

func (in BookInput) normalized() BookInput {
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Genre = strings.TrimSpace(in.Genre)
	return in
}

// Service is the catalog store used by callers
type Service struct {
	store     storage.Storage
	guard     *access.Guard
	audit     *audit.Log
	validator *validation.Validator
	logger    *zap.Logger
}

// NewService creates a catalog Service
func NewService(store storage.Storage, guard *access.Guard, auditLog *audit.Log, v *validation.Validator, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		guard:     guard,
		audit:     auditLog,
		validator: v,
		logger:    logger,
	}
}

// AddBook registers a new title with all copies on the shelf
func (s *Service) AddBook(ctx context.Context, actor models.Principal, in BookInput) (id int64, err error) {
	defer func() { metrics.CatalogOperations.WithLabelValues("add", metrics.Outcome(err)).Inc() }()

	if err := s.guard.Authorize(actor, access.ManageCatalog, access.Resource{}); err != nil {
		return 0, err
	}
	in = in.normalized()
	if err := s.validator.Validate(in); err != nil {
		return 0, err
	}

	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		var err error
		id, err = repo.CreateBook(ctx, models.Book{
			ISBN:        in.ISBN,
			Title:       in.Title,
			Author:      in.Author,
			Genre:       in.Genre,
			Year:        in.Year,
			TotalCopies: in.TotalCopies,
			Available:   in.TotalCopies,
		})
		if err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionBookCreated, audit.EntityBook, id,
			fmt.Sprintf("isbn=%s title=%q copies=%d", in.ISBN, in.Title, in.TotalCopies))
		return err
	})
	if err != nil {
		return 0, err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Book added", zap.Int64("book_id", id), zap.String("isbn", in.ISBN), zap.Int64("actor_id", actor.ID))
	return id, nil
}

// UpdateBook replaces a book's metadata. Copies on loan stay on loan: the
// shelf count becomes the new total minus the active loans.
func (s *Service) UpdateBook(ctx context.Context, actor models.Principal, id int64, in BookInput) (err error) {
	defer func() { metrics.CatalogOperations.WithLabelValues("update", metrics.Outcome(err)).Inc() }()

	if err := s.guard.Authorize(actor, access.ManageCatalog, access.Resource{}); err != nil {
		return err
	}
	in = in.normalized()
	if err := s.validator.Validate(in); err != nil {
		return err
	}

	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		book, err := repo.LockBook(ctx, id)
		if err != nil {
			return err
		}

		if in.ISBN != book.ISBN {
			other, err := repo.FindBookByISBN(ctx, in.ISBN)
			switch {
			case err == nil && other.ID != id:
				return fmt.Errorf("isbn %s: %w", in.ISBN, models.ErrDuplicateISBN)
			case err != nil && !errors.Is(err, models.ErrNotFound):
				return err
			}
		}

		onLoan, err := repo.CountActiveLoansForBook(ctx, id)
		if err != nil {
			return err
		}
		if in.TotalCopies < onLoan {
			return fmt.Errorf("total_copies %d is below the %d copies on loan: %w", in.TotalCopies, onLoan, models.ErrInvalidField)
		}

		updated := models.Book{
			ID:          id,
			ISBN:        in.ISBN,
			Title:       in.Title,
			Author:      in.Author,
			Genre:       in.Genre,
			Year:        in.Year,
			TotalCopies: in.TotalCopies,
			Available:   in.TotalCopies - onLoan,
		}
		if err := repo.UpdateBook(ctx, updated); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionBookUpdated, audit.EntityBook, id,
			fmt.Sprintf("isbn=%s title=%q copies=%d available=%d", updated.ISBN, updated.Title, updated.TotalCopies, updated.Available))
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Book updated", zap.Int64("book_id", id), zap.Int64("actor_id", actor.ID))
	return nil
}

// DeleteBook removes a book that has no active loans
func (s *Service) DeleteBook(ctx context.Context, actor models.Principal, id int64) (err error) {
	defer func() { metrics.CatalogOperations.WithLabelValues("delete", metrics.Outcome(err)).Inc() }()

	if err := s.guard.Authorize(actor, access.ManageCatalog, access.Resource{}); err != nil {
		return err
	}

	var entry models.AuditEntry
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo storage.Repository) error {
		book, err := repo.LockBook(ctx, id)
		if err != nil {
			return err
		}

		onLoan, err := repo.CountActiveLoansForBook(ctx, id)
		if err != nil {
			return err
		}
		if onLoan > 0 {
			return fmt.Errorf("book %d has %d active loans: %w", id, onLoan, models.ErrHasActiveLoans)
		}

		if err := repo.DeleteBook(ctx, id); err != nil {
			return err
		}

		entry, err = s.audit.Record(ctx, repo, actor.ID, audit.ActionBookDeleted, audit.EntityBook, id,
			fmt.Sprintf("isbn=%s title=%q", book.ISBN, book.Title))
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	s.logger.Info("Book deleted", zap.Int64("book_id", id), zap.Int64("actor_id", actor.ID))
	return nil
}

// GetBook returns a single book
func (s *Service) GetBook(ctx context.Context, actor models.Principal, id int64) (models.Book, error) {
	if err := s.guard.Authorize(actor, access.ViewCatalog, access.Resource{}); err != nil {
		return models.Book{}, err
	}
	return s.store.GetBook(ctx, id)
}

// ListAvailable returns books with at least one copy on the shelf, ordered by id
func (s *Service) ListAvailable(ctx context.Context, actor models.Principal) (iter.Seq[models.Book], error) {
	return s.list(actor, func() ([]models.Book, error) { return s.store.ListBooks(ctx, true) })
}

// ListAll returns every book, ordered by id
func (s *Service) ListAll(ctx context.Context, actor models.Principal) (iter.Seq[models.Book], error) {
	return s.list(actor, func() ([]models.Book, error) { return s.store.ListBooks(ctx, false) })
}

// Search returns books whose title contains title, case-insensitively
func (s *Service) Search(ctx context.Context, actor models.Principal, title string) (iter.Seq[models.Book], error) {
	return s.list(actor, func() ([]models.Book, error) { return s.store.SearchBooks(ctx, strings.TrimSpace(title)) })
}

func (s *Service) list(actor models.Principal, fetch func() ([]models.Book, error)) (iter.Seq[models.Book], error) {
	if err := s.guard.Authorize(actor, access.ViewCatalog, access.Resource{}); err != nil {
		return nil, err
	}
	books, err := fetch()
	if err != nil {
		return nil, err
	}
	return slices.Values(books), nil
}
