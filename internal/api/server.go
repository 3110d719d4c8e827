// Package api exposes the lending services over JSON/HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/catalog"
	"lending/internal/ledger"
	"lending/internal/members"
	"lending/internal/metrics"
	"lending/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to the services
type Server struct {
	catalog *catalog.Service
	ledger  *ledger.Service
	members *members.Service
	audit   *audit.Log
	guard   *access.Guard
	logger  *zap.Logger
}

// NewServer creates a Server
func NewServer(cat *catalog.Service, led *ledger.Service, mem *members.Service, auditLog *audit.Log, guard *access.Guard, logger *zap.Logger) *Server {
	return &Server{
		catalog: cat,
		ledger:  led,
		members: mem,
		audit:   auditLog,
		guard:   guard,
		logger:  logger,
	}
}

// Handler returns the chi router with all routes mounted
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/members", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.basicAuth)

			r.Get("/books", s.handleListBooks)
			r.Post("/books", s.handleAddBook)
			r.Get("/books/{id}", s.handleGetBook)
			r.Put("/books/{id}", s.handleUpdateBook)
			r.Delete("/books/{id}", s.handleDeleteBook)

			r.Post("/loans", s.handleIssueLoan)
			r.Get("/loans", s.handleListLoans)
			r.Get("/loans/active", s.handleListActiveLoans)
			r.Get("/loans/{id}", s.handleGetLoan)
			r.Post("/loans/{id}/return", s.handleReturnLoan)
			r.Delete("/loans/{id}", s.handleCancelLoan)

			r.Get("/accounts", s.handleListAccounts)
			r.Post("/accounts", s.handleCreateAccount)
			r.Get("/accounts/{id}", s.handleGetAccount)
			r.Put("/accounts/{id}", s.handleUpdateAccount)
			r.Delete("/accounts/{id}", s.handleDeleteAccount)

			r.Get("/audit", s.handleAudit)
		})
	})

	return r
}

type principalKey struct{}

func principalFrom(ctx context.Context) models.Principal {
	p, _ := ctx.Value(principalKey{}).(models.Principal)
	return p
}

// basicAuth resolves HTTP Basic credentials to a principal
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="lending"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		p, err := s.members.Authenticate(r.Context(), email, password)
		if err != nil {
			if !errors.Is(err, models.ErrInvalidCredentials) {
				s.logger.Error("Failed to authenticate", zap.Error(err))
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="lending"`)
			s.respondError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// instrument counts requests by route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"status":  status,
		},
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidField), errors.Is(err, models.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateISBN),
		errors.Is(err, models.ErrDuplicateEmail),
		errors.Is(err, models.ErrDuplicateActiveLoan),
		errors.Is(err, models.ErrNoCopiesAvailable),
		errors.Is(err, models.ErrLoanNotActive),
		errors.Is(err, models.ErrHasActiveLoans),
		errors.Is(err, models.ErrHasLoanHistory):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(models.ErrInvalidField, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Join(models.ErrInvalidField, errors.New("id must be a positive integer"))
	}
	return id, nil
}
