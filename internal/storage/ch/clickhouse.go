package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"lending/internal/models"
	"lending/migrations"
)

// ClickHouseDB mirrors audit entries into ClickHouse for reporting
type ClickHouseDB struct {
	conn    clickhouse.Conn
	options *clickhouse.Options
}

// Options builds native-protocol connection options
func Options(host string, port int, database, user, password string, useTLS bool) *clickhouse.Options {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", host, port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
	}

	if useTLS {
		options.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}
	return options
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(host string, port int, database, user, password string, useTLS bool) (*ClickHouseDB, error) {
	options := Options(host, port, database, user, password, useTLS)

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn, options: options}, nil
}

// Initialize applies the audit table migrations
func (db *ClickHouseDB) Initialize(ctx context.Context) error {
	sqlDB := clickhouse.OpenDB(db.options)
	defer sqlDB.Close()

	return migrations.Up(ctx, sqlDB, migrations.ClickHouse)
}

// Name identifies the sink in logs
func (db *ClickHouseDB) Name() string {
	return "clickhouse"
}

// Publish appends a committed audit entry to the mirror table
func (db *ClickHouseDB) Publish(ctx context.Context, entry models.AuditEntry) error {
	err := db.conn.Exec(ctx,
		`INSERT INTO audit_entries (id, actor_id, action, entity, entity_id, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, entry.Detail, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to mirror audit entry %s: %w", entry.ID, err)
	}
	return nil
}

// Recent returns the last N mirrored entries, newest first
func (db *ClickHouseDB) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT id, actor_id, action, entity, entity_id, detail, created_at FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByAction aggregates mirrored entries per action code
func (db *ClickHouseDB) CountByAction(ctx context.Context, since time.Time) (map[string]uint64, error) {
	rows, err := db.conn.Query(ctx,
		`SELECT action, count() FROM audit_entries WHERE created_at >= ? GROUP BY action`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var action string
		var n uint64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
