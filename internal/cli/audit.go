package cli

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lending/internal/audit"
	"lending/internal/models"
	"lending/internal/storage/ch"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(newAuditTailCmd())
	cmd.AddCommand(newAuditStatsCmd())
	return cmd
}

func newAuditTailCmd() *cobra.Command {
	var (
		limit  int
		source string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			var entries []models.AuditEntry
			switch source {
			case "postgres":
				db, err := e.openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer db.Close()
				entries, err = audit.New(db, e.logger).Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
			case "clickhouse":
				mirror, err := e.openMirror("audit tail --source clickhouse")
				if err != nil {
					return err
				}
				defer mirror.Close()
				if limit <= 0 {
					limit = audit.DefaultRecentLimit
				}
				entries, err = mirror.Recent(cmd.Context(), min(limit, audit.MaxRecentLimit))
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown source %q: want postgres or clickhouse", source)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tENTITY\tDETAIL")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s/%d\t%s\n",
					entry.CreatedAt.UTC().Format(time.RFC3339), entry.ActorID, entry.Action, entry.Entity, entry.EntityID, entry.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", audit.DefaultRecentLimit, "number of entries to print")
	cmd.Flags().StringVar(&source, "source", "postgres", "where to read entries: postgres or the clickhouse mirror")
	return cmd
}

func newAuditStatsCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count mirrored audit entries per action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			mirror, err := e.openMirror("audit stats")
			if err != nil {
				return err
			}
			defer mirror.Close()

			counts, err := mirror.CountByAction(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tCOUNT")
			for _, action := range slices.Sorted(maps.Keys(counts)) {
				fmt.Fprintf(tw, "%s\t%d\n", action, counts[action])
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to count")
	return cmd
}

// openMirror connects to the ClickHouse audit mirror
func (e *env) openMirror(command string) (*ch.ClickHouseDB, error) {
	if e.cfg.ClickHouseHost == "" {
		return nil, fmt.Errorf("CLICKHOUSE_HOST is required for %s", command)
	}
	return ch.NewClickHouseDB(
		e.cfg.ClickHouseHost,
		e.cfg.ClickHousePort,
		e.cfg.ClickHouseDatabase,
		e.cfg.ClickHouseUser,
		e.cfg.ClickHousePassword,
		e.cfg.ClickHouseUseTLS,
	)
}
