// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lending/internal/models"
)

const namespace = "lending"

// LoanOperations counts ledger operations by operation and outcome.
var LoanOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by operation and outcome.",
}, []string{"operation", "outcome"})

// ActiveLoans tracks loans issued minus loans closed since start.
var ActiveLoans = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "active_loans_delta",
	Help:      "Loans issued minus loans closed by this process.",
})

// FinesUnavailable counts overdue returns whose fine could not be priced.
var FinesUnavailable = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "fines_unavailable_total",
	Help:      "Overdue returns completed without a fine because the indicator was unavailable.",
})

// RateFetchDuration observes indicator lookups.
var RateFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "rates",
	Name:      "fetch_duration_seconds",
	Help:      "Indicator lookup latency.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
}, []string{"outcome"})

// CatalogOperations counts catalog mutations by operation and outcome.
var CatalogOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "catalog",
	Name:      "operations_total",
	Help:      "Catalog mutations by operation and outcome.",
}, []string{"operation", "outcome"})

// AuditSinkFailures counts entries a mirror failed to accept.
var AuditSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "audit",
	Name:      "sink_failures_total",
	Help:      "Audit entries a mirror failed to accept.",
}, []string{"sink"})

// HTTPRequests counts API requests by route pattern, method and status.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by route, method and status code.",
}, []string{"route", "method", "status"})

// Outcome classifies err into a low-cardinality label value
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidField), errors.Is(err, models.ErrInvalidDuration):
		return "invalid"
	case errors.Is(err, models.ErrNoCopiesAvailable):
		return "no_copies"
	case errors.Is(err, models.ErrDuplicateActiveLoan), errors.Is(err, models.ErrDuplicateISBN), errors.Is(err, models.ErrDuplicateEmail):
		return "duplicate"
	case errors.Is(err, models.ErrLoanNotActive), errors.Is(err, models.ErrHasActiveLoans), errors.Is(err, models.ErrHasLoanHistory):
		return "conflict"
	case errors.Is(err, models.ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
