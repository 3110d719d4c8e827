package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/catalog"
	"lending/internal/ledger"
	"lending/internal/members"
	"lending/internal/models"
	"lending/internal/storage/stubs"
	"lending/internal/validation"
)

type staticRate float64

func (r staticRate) DailyRate(context.Context, string) (float64, error) {
	return float64(r), nil
}

type testServer struct {
	*httptest.Server
	db *stubs.MockDB
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	db := stubs.NewMockDB()
	guard := access.NewGuard()
	v := validation.New()
	auditLog := audit.New(db, logger)

	mem := members.NewService(db, guard, auditLog, v, logger, bcrypt.MinCost)
	cat := catalog.NewService(db, guard, auditLog, v, logger)
	led := ledger.NewService(db, guard, auditLog, staticRate(1000), logger,
		ledger.WithClock(func() time.Time { return time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC) }))

	_, err := mem.EnsureAdmin(context.Background(), "Root Admin", "admin@example.com", "adminpass")
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(cat, led, mem, auditLog, guard, logger).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, db: db}
}

type creds struct{ email, password string }

var admin = creds{"admin@example.com", "adminpass"}

func (ts *testServer) do(t *testing.T, c *creds, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if c != nil {
		req.SetBasicAuth(c.email, c.password)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (ts *testServer) register(t *testing.T, name, email string) (int64, creds) {
	t.Helper()
	resp, body := ts.do(t, nil, http.MethodPost, "/api/members", map[string]string{
		"name": name, "email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var m models.Member
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, models.RoleMember, m.Role)
	return m.ID, creds{email, "secret123"}
}

func (ts *testServer) addBook(t *testing.T, isbn string, copies int) models.Book {
	t.Helper()
	resp, body := ts.do(t, &admin, http.MethodPost, "/api/books", catalog.BookInput{
		ISBN: isbn, Title: "El Aleph", Author: "Jorge Luis Borges", Genre: "Ficcion", Year: 1949, TotalCopies: copies,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var b models.Book
	require.NoError(t, json.Unmarshal(body, &b))
	return b
}

func TestHealth(t *testing.T) {
	ts := setupServer(t)

	resp, body := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t)
	ts.do(t, nil, http.MethodGet, "/health", nil)

	resp, body := ts.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "lending_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	ts := setupServer(t)

	resp, _ := ts.do(t, nil, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp, _ = ts.do(t, &creds{"admin@example.com", "wrong"}, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodGet, "/api/books", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBooks(t *testing.T) {
	ts := setupServer(t)
	_, member := ts.register(t, "Ana Perez", "ana@example.com")

	book := ts.addBook(t, "9780553380163", 2)
	assert.Equal(t, 2, book.Available)

	resp, _ := ts.do(t, &member, http.MethodPost, "/api/books", catalog.BookInput{
		ISBN: "9780000000001", Title: "Otro", Author: "Nadie Conocido", Genre: "Ficcion", Year: 2000, TotalCopies: 1,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodPost, "/api/books", catalog.BookInput{
		ISBN: "9780553380163", Title: "Duplicado", Author: "Nadie Conocido", Genre: "Ficcion", Year: 2000, TotalCopies: 1,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := ts.do(t, &admin, http.MethodPost, "/api/books", map[string]any{"isbn": "x", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = ts.do(t, &member, http.MethodGet, "/api/books?q=aleph", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var found []models.Book
	require.NoError(t, json.Unmarshal(body, &found))
	require.Len(t, found, 1)
	assert.Equal(t, book.ID, found[0].ID)

	path := "/api/books/" + strconv.FormatInt(book.ID, 10)
	in := catalog.BookInput{ISBN: book.ISBN, Title: "El Aleph", Author: "Jorge Luis Borges", Genre: "Ficcion", Year: 1949, TotalCopies: 5}
	resp, body = ts.do(t, &admin, http.MethodPut, path, in)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated models.Book
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 5, updated.Available)

	resp, _ = ts.do(t, &admin, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodGet, "/api/books/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoanLifecycle(t *testing.T) {
	ts := setupServer(t)
	aliceID, alice := ts.register(t, "Alice Diaz", "alice@example.com")
	_, bob := ts.register(t, "Bob Soto", "bob@example.com")
	book := ts.addBook(t, "9780553380163", 1)

	resp, body := ts.do(t, &alice, http.MethodPost, "/api/loans", issueRequest{BookID: book.ID, DurationDays: 7})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var loan models.LoanView
	require.NoError(t, json.Unmarshal(body, &loan))
	assert.Equal(t, aliceID, loan.BorrowerID)
	assert.Equal(t, 7, loan.DaysRemaining)
	assert.Equal(t, "El Aleph", loan.BookTitle)

	resp, _ = ts.do(t, &bob, http.MethodPost, "/api/loans", issueRequest{BookID: book.ID, DurationDays: 7})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, &bob, http.MethodPost, "/api/loans", issueRequest{BookID: book.ID, DurationDays: 15})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	loanPath := "/api/loans/" + strconv.FormatInt(loan.ID, 10)

	resp, _ = ts.do(t, &bob, http.MethodGet, loanPath, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, &bob, http.MethodPost, loanPath+"/return", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, &alice, http.MethodGet, "/api/loans/active", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, &admin, http.MethodGet, "/api/loans/active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var active []models.LoanView
	require.NoError(t, json.Unmarshal(body, &active))
	assert.Len(t, active, 1)

	resp, body = ts.do(t, &alice, http.MethodPost, loanPath+"/return", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var receipt ledger.ReturnReceipt
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, models.LoanReturned, receipt.Loan.State)
	assert.True(t, receipt.FineAvailable)
	assert.Zero(t, receipt.DaysLate)

	resp, _ = ts.do(t, &alice, http.MethodPost, loanPath+"/return", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = ts.do(t, &alice, http.MethodGet, "/api/loans?active=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = ts.do(t, &alice, http.MethodGet, "/api/loans", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.LoanView
	require.NoError(t, json.Unmarshal(body, &history))
	assert.Len(t, history, 1)

	// History pins both the book and the borrower
	resp, _ = ts.do(t, &admin, http.MethodDelete, "/api/books/"+strconv.FormatInt(book.ID, 10), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = ts.do(t, &admin, http.MethodDelete, "/api/accounts/"+strconv.FormatInt(aliceID, 10), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodGet, loanPath, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCancelLoan(t *testing.T) {
	ts := setupServer(t)
	_, alice := ts.register(t, "Alice Diaz", "alice@example.com")
	book := ts.addBook(t, "9780553380163", 1)

	resp, body := ts.do(t, &alice, http.MethodPost, "/api/loans", issueRequest{BookID: book.ID, DurationDays: 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var loan models.LoanView
	require.NoError(t, json.Unmarshal(body, &loan))
	loanPath := "/api/loans/" + strconv.FormatInt(loan.ID, 10)

	resp, _ = ts.do(t, &alice, http.MethodDelete, loanPath, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodDelete, loanPath, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	b, err := ts.db.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Available)
}

func TestAccounts(t *testing.T) {
	ts := setupServer(t)
	aliceID, alice := ts.register(t, "Alice Diaz", "alice@example.com")

	resp, _ := ts.do(t, nil, http.MethodPost, "/api/members", map[string]string{
		"name": "Alice Again", "email": "ALICE@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = ts.do(t, &alice, http.MethodGet, "/api/accounts", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(t, &admin, http.MethodPost, "/api/accounts", members.MemberInput{
		Name: "Laura Librera", Email: "laura@example.com", Password: "shelves1", Role: models.RoleLibrarian,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var lib models.Member
	require.NoError(t, json.Unmarshal(body, &lib))
	assert.Equal(t, models.RoleLibrarian, lib.Role)
	assert.NotContains(t, string(body), "password")

	resp, _ = ts.do(t, &alice, http.MethodGet, "/api/accounts/"+strconv.FormatInt(aliceID, 10), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, &alice, http.MethodGet, "/api/accounts/"+strconv.FormatInt(lib.ID, 10), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = ts.do(t, &admin, http.MethodDelete, "/api/accounts/"+strconv.FormatInt(lib.ID, 10), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAuditEndpoint(t *testing.T) {
	ts := setupServer(t)
	_, alice := ts.register(t, "Alice Diaz", "alice@example.com")
	ts.addBook(t, "9780553380163", 1)

	resp, _ := ts.do(t, &alice, http.MethodGet, "/api/audit", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := ts.do(t, &admin, http.MethodGet, "/api/audit?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []models.AuditEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionBookCreated, entries[0].Action)

	resp, _ = ts.do(t, &admin, http.MethodGet, "/api/audit?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidField, http.StatusBadRequest},
		{models.ErrInvalidDuration, http.StatusBadRequest},
		{models.ErrInvalidCredentials, http.StatusUnauthorized},
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrDuplicateActiveLoan, http.StatusConflict},
		{models.ErrNoCopiesAvailable, http.StatusConflict},
		{models.ErrHasActiveLoans, http.StatusConflict},
		{models.ErrHasLoanHistory, http.StatusConflict},
		{models.ErrUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
