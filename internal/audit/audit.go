// Package audit records state-changing actions. Entries are appended inside
// the caller's transaction and fanned out to mirrors once it commits.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lending/internal/metrics"
	"lending/internal/models"
	"lending/internal/storage"
)

// Action codes
const (
	ActionLoanCreated   = "PRESTAMO_CREADO"
	ActionLoanReturned  = "DEVOLUCION"
	ActionLoanCancelled = "PRESTAMO_DEL"
	ActionBookCreated   = "LIBRO_CREADO"
	ActionBookUpdated   = "LIBRO_EDITADO"
	ActionBookDeleted   = "LIBRO_DEL"
	ActionMemberCreated = "USUARIO_CREADO"
	ActionMemberUpdated = "USUARIO_EDITADO"
	ActionMemberDeleted = "USUARIO_DEL"
)

// Entity names
const (
	EntityBook   = "book"
	EntityLoan   = "loan"
	EntityMember = "member"
)

const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Sink receives committed entries. Failures are logged, never surfaced.
type Sink interface {
	Name() string
	Publish(ctx context.Context, entry models.AuditEntry) error
}

// Log appends and publishes audit entries
type Log struct {
	store  storage.Repository
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Log
type Option func(*Log)

// WithSinks adds best-effort mirrors
func WithSinks(sinks ...Sink) Option {
	return func(l *Log) {
		l.sinks = append(l.sinks, sinks...)
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// New creates a Log reading history from store
func New(store storage.Repository, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry through repo, which is normally the repository of
// an open transaction so the entry commits or rolls back with the change.
func (l *Log) Record(ctx context.Context, repo storage.Repository, actorID int64, action, entity string, entityID int64, detail string) (models.AuditEntry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to generate audit id: %w", err)
	}

	entry := models.AuditEntry{
		ID:        id.String(),
		ActorID:   actorID,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Detail:    detail,
		CreatedAt: l.now().UTC(),
	}
	if err := repo.AppendAudit(ctx, entry); err != nil {
		return models.AuditEntry{}, fmt.Errorf("failed to record %s: %w", action, err)
	}
	return entry, nil
}

// Publish hands committed entries to every sink
func (l *Log) Publish(ctx context.Context, entries ...models.AuditEntry) {
	for _, entry := range entries {
		for _, sink := range l.sinks {
			if err := sink.Publish(ctx, entry); err != nil {
				metrics.AuditSinkFailures.WithLabelValues(sink.Name()).Inc()
				l.logger.Warn("Failed to publish audit entry",
					zap.String("sink", sink.Name()),
					zap.String("audit_id", entry.ID),
					zap.String("action", entry.Action),
					zap.Error(err))
			}
		}
	}
}

// Recent returns up to limit entries, newest first
func (l *Log) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	entries, err := l.store.RecentAudit(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	return entries, nil
}
