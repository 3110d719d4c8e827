package models

import "errors"

// Sentinel errors shared by the storage backends and services.
// Callers classify with errors.Is; wrapping adds context only.
var (
	ErrInvalidField        = errors.New("invalid field")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateISBN       = errors.New("isbn already registered")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrDuplicateActiveLoan = errors.New("borrower already holds an active loan on this book")
	ErrNoCopiesAvailable   = errors.New("no copies available")
	ErrInvalidDuration     = errors.New("loan duration must be between 1 and 14 days")
	ErrLoanNotActive       = errors.New("loan is not active")
	ErrForbidden           = errors.New("forbidden")
	ErrHasActiveLoans      = errors.New("active loans outstanding")
	ErrHasLoanHistory      = errors.New("loan history references this record")
	ErrUnavailable         = errors.New("exchange rate unavailable")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)
