// Package cli implements lendingctl, the operator command line.
package cli

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lending/internal/config"
	"lending/internal/storage"
	"lending/internal/storage/pg"
	"lending/internal/storage/stubs"
)

// NewRootCmd builds the lendingctl command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lendingctl",
		Short: "Operate the lending service",
		Long: `lendingctl manages schema migrations, accounts, loan reports and the audit trail
for the lending service. Settings are read from .env, CONFIG_FILE and the
environment, the same way the server reads them.`,
		SilenceUsage: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newMemberCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newReportCmd())
	return root
}

// Execute runs lendingctl with os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv() (*env, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// openStore connects to the transactional store and brings its schema up to date
func (e *env) openStore(ctx context.Context) (storage.Storage, error) {
	var db storage.Storage
	if e.cfg.UseMockDB {
		db = stubs.NewMockDB()
	} else {
		postgresDB, err := pg.NewPostgresDB(ctx, e.cfg.DatabaseURL, e.cfg.DatabaseMaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
		}
		db = postgresDB
	}

	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}
