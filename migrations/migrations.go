// Package migrations embeds the SQL schema and applies it with goose.
// Schema changes run only when a caller asks for them: the application at
// startup and the lendingctl migrate command.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

// Target selects the schema directory and goose dialect
type Target string

const (
	Postgres   Target = "postgres"
	ClickHouse Target = "clickhouse"
)

// goose keeps dialect and filesystem in package state
var gooseMu sync.Mutex

func prepare(t Target, logger goose.Logger) error {
	goose.SetBaseFS(FS)
	goose.SetLogger(logger)
	if err := goose.SetDialect(string(t)); err != nil {
		return fmt.Errorf("failed to set dialect %s: %w", t, err)
	}
	return nil
}

// Up applies every pending migration for t. Safe to call on every start.
func Up(ctx context.Context, db *sql.DB, t Target) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(t, goose.NopLogger()); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, string(t)); err != nil {
		return fmt.Errorf("failed to run %s migrations: %w", t, err)
	}
	return nil
}

// Down rolls back the most recent migration for t
func Down(ctx context.Context, db *sql.DB, t Target) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(t, goose.NopLogger()); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, string(t)); err != nil {
		return fmt.Errorf("failed to roll back %s migration: %w", t, err)
	}
	return nil
}

// Status writes the migration status for t to w
func Status(ctx context.Context, db *sql.DB, t Target, w io.Writer) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	defer goose.SetLogger(goose.NopLogger())

	if err := prepare(t, log.New(w, "", 0)); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, string(t))
}

// Version returns the current schema version for t
func Version(ctx context.Context, db *sql.DB, t Target) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := prepare(t, goose.NopLogger()); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}
