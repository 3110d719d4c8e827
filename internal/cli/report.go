package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lending/internal/storage/pg"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run loan reports against Postgres",
	}
	cmd.AddCommand(newReportOverdueCmd())
	cmd.AddCommand(newReportStatesCmd())
	return cmd
}

func newReportOverdueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List active loans past their due date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReports(cmd.Context(), func(ctx context.Context, reports *pg.Reports) error {
				rows, err := reports.Overdue(ctx, time.Now())
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LOAN\tDUE\tDAYS LATE\tBORROWER\tEMAIL\tBOOK")
				for _, row := range rows {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
						row.LoanID, row.DueOn.Format(time.DateOnly), row.DaysLate, row.BorrowerName, row.BorrowerEmail, row.BookTitle)
				}
				return tw.Flush()
			})
		},
	}
}

func newReportStatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "states",
		Short: "Count loans per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReports(cmd.Context(), func(ctx context.Context, reports *pg.Reports) error {
				counts, err := reports.CountByState(ctx)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STATE\tLOANS")
				for _, c := range counts {
					fmt.Fprintf(tw, "%s\t%d\n", c.State, c.Loans)
				}
				return tw.Flush()
			})
		},
	}
}

func withReports(ctx context.Context, fn func(context.Context, *pg.Reports) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.logger.Sync()

	if e.cfg.UseMockDB || e.cfg.DatabaseURL == "" {
		return fmt.Errorf("reports need Postgres: set DATABASE_URL and USE_MOCK_DB=false")
	}
	db, err := pg.NewPostgresDB(ctx, e.cfg.DatabaseURL, e.cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	reports := db.Reports()
	defer reports.Close()
	return fn(ctx, reports)
}
