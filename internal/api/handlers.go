package api

import (
	"errors"
	"iter"
	"net/http"
	"slices"
	"strconv"

	"lending/internal/access"
	"lending/internal/catalog"
	"lending/internal/members"
	"lending/internal/models"
)

// Books

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	var (
		books iter.Seq[models.Book]
		err   error
	)
	actor := principalFrom(r.Context())
	switch q := r.URL.Query(); {
	case q.Get("q") != "":
		books, err = s.catalog.Search(r.Context(), actor, q.Get("q"))
	case q.Get("available") == "true":
		books, err = s.catalog.ListAvailable(r.Context(), actor)
	default:
		books, err = s.catalog.ListAll(r.Context(), actor)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collect(books))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	book, err := s.catalog.GetBook(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var in catalog.BookInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := s.catalog.AddBook(r.Context(), principalFrom(r.Context()), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	book, err := s.catalog.GetBook(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in catalog.BookInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.catalog.UpdateBook(r.Context(), principalFrom(r.Context()), id, in); err != nil {
		s.respondError(w, r, err)
		return
	}
	book, err := s.catalog.GetBook(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.catalog.DeleteBook(r.Context(), principalFrom(r.Context()), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Loans

type issueRequest struct {
	BorrowerID   int64 `json:"borrower_id"`
	BookID       int64 `json:"book_id"`
	DurationDays int   `json:"duration_days"`
}

func (s *Server) handleIssueLoan(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decode(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	actor := principalFrom(r.Context())
	if req.BorrowerID == 0 {
		req.BorrowerID = actor.ID
	}

	id, err := s.ledger.IssueLoan(r.Context(), actor, req.BorrowerID, req.BookID, req.DurationDays)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), actor, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	actor := principalFrom(r.Context())
	q := r.URL.Query()

	borrowerID := actor.ID
	if v := q.Get("borrower"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.respondError(w, r, errors.Join(models.ErrInvalidField, errors.New("borrower must be an integer")))
			return
		}
		borrowerID = id
	}
	activeOnly := q.Get("active") == "true"

	loans, err := s.ledger.ListLoansForBorrower(r.Context(), actor, borrowerID, activeOnly)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collect(loans))
}

func (s *Server) handleListActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListAllActiveLoans(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collect(loans))
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	receipt, err := s.ledger.ReturnLoan(r.Context(), principalFrom(r.Context()), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleCancelLoan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.ledger.ForceCancelLoan(r.Context(), principalFrom(r.Context()), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Accounts

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in members.MemberInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	id, err := s.members.Register(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeMember(w, r, models.Principal{ID: id, Role: models.RoleMember}, id, http.StatusCreated)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var in members.MemberInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	actor := principalFrom(r.Context())
	id, err := s.members.Create(r.Context(), actor, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeMember(w, r, actor, id, http.StatusCreated)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.members.List(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Member{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeMember(w, r, principalFrom(r.Context()), id, http.StatusOK)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var in members.MemberInput
	if err := decode(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}
	actor := principalFrom(r.Context())
	if err := s.members.Update(r.Context(), actor, id, in); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.writeMember(w, r, actor, id, http.StatusOK)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.members.Delete(r.Context(), principalFrom(r.Context()), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeMember(w http.ResponseWriter, r *http.Request, actor models.Principal, id int64, status int) {
	m, err := s.members.Get(r.Context(), actor, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, status, m)
}

// Audit

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Authorize(principalFrom(r.Context()), access.ReadAudit, access.Resource{}); err != nil {
		s.respondError(w, r, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, r, errors.Join(models.ErrInvalidField, errors.New("limit must be a non-negative integer")))
			return
		}
		limit = n
	}

	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// collect drains seq so empty listings encode as [] rather than null
func collect[T any](seq iter.Seq[T]) []T {
	out := slices.Collect(seq)
	if out == nil {
		out = []T{}
	}
	return out
}
