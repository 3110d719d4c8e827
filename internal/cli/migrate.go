package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"lending/internal/storage/ch"
	"lending/migrations"
)

func newMigrateCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.PersistentFlags().StringVarP(&target, "target", "t", string(migrations.Postgres), "schema to migrate: postgres or clickhouse")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd.Context(), target, func(ctx context.Context, db *sql.DB, t migrations.Target) error {
				if err := migrations.Up(ctx, db, t); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd.Context(), target, func(ctx context.Context, db *sql.DB, t migrations.Target) error {
				if err := migrations.Down(ctx, db, t); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Rollback completed successfully")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd.Context(), target, func(ctx context.Context, db *sql.DB, t migrations.Target) error {
				return migrations.Status(ctx, db, t, cmd.OutOrStdout())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTarget(cmd.Context(), target, func(ctx context.Context, db *sql.DB, t migrations.Target) error {
				version, err := migrations.Version(ctx, db, t)
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d\n", version)
				return nil
			})
		},
	})

	return cmd
}

func withTarget(ctx context.Context, target string, fn func(context.Context, *sql.DB, migrations.Target) error) error {
	t := migrations.Target(target)
	if t != migrations.Postgres && t != migrations.ClickHouse {
		return fmt.Errorf("unknown target %q: want %s or %s", target, migrations.Postgres, migrations.ClickHouse)
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	db, err := openTarget(e, t)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", t, err)
	}
	return fn(ctx, db, t)
}

func openTarget(e *env, t migrations.Target) (*sql.DB, error) {
	if t == migrations.ClickHouse {
		if e.cfg.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required for the clickhouse target")
		}
		return clickhouse.OpenDB(ch.Options(
			e.cfg.ClickHouseHost,
			e.cfg.ClickHousePort,
			e.cfg.ClickHouseDatabase,
			e.cfg.ClickHouseUser,
			e.cfg.ClickHousePassword,
			e.cfg.ClickHouseUseTLS,
		)), nil
	}

	if e.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres target")
	}
	db, err := sql.Open("pgx", e.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open Postgres: %w", err)
	}
	return db, nil
}
