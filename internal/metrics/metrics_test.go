package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"lending/internal/models"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "forbidden", Outcome(fmt.Errorf("wrap: %w", models.ErrForbidden)))
	assert.Equal(t, "no_copies", Outcome(models.ErrNoCopiesAvailable))
	assert.Equal(t, "invalid", Outcome(models.ErrInvalidDuration))
	assert.Equal(t, "duplicate", Outcome(models.ErrDuplicateActiveLoan))
	assert.Equal(t, "conflict", Outcome(models.ErrLoanNotActive))
	assert.Equal(t, "conflict", Outcome(models.ErrHasLoanHistory))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestLoanOperations(t *testing.T) {
	before := testutil.ToFloat64(LoanOperations.WithLabelValues("issue", "ok"))
	LoanOperations.WithLabelValues("issue", "ok").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(LoanOperations.WithLabelValues("issue", "ok")))
}
