package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lending/internal/access"
	"lending/internal/audit"
	"lending/internal/members"
	"lending/internal/models"
	"lending/internal/validation"
)

func newMemberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage member accounts",
	}
	cmd.AddCommand(newMemberCreateCmd())
	cmd.AddCommand(newMemberListCmd())
	return cmd
}

func newMemberCreateCmd() *cobra.Command {
	var in members.MemberInput
	var role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account with any role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			db, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			guard := access.NewGuard()
			svc := members.NewService(db, guard, audit.New(db, e.logger), validation.New(), e.logger, e.cfg.BcryptCost)

			in.Role = models.Role(role)
			id, err := svc.Create(cmd.Context(), models.SystemPrincipal, in)
			if err != nil {
				return fmt.Errorf("failed to create member: %w", err)
			}
			m, err := svc.Get(cmd.Context(), models.SystemPrincipal, id)
			if err != nil {
				return fmt.Errorf("failed to read back member %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s account %d for %s\n", m.Role, m.ID, m.Email)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "display name")
	f.StringVar(&in.Email, "email", "", "login email")
	f.StringVar(&in.Password, "password", "", "login password")
	f.StringVar(&role, "role", string(models.RoleMember), "member, librarian or administrator")
	f.StringVar(&in.Institution, "institution", "", "optional institution")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newMemberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			db, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			svc := members.NewService(db, access.NewGuard(), audit.New(db, e.logger), validation.New(), e.logger, e.cfg.BcryptCost)
			list, err := svc.List(cmd.Context(), models.SystemPrincipal)
			if err != nil {
				return fmt.Errorf("failed to list members: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
			for _, m := range list {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.ID, m.Name, m.Email, m.Role)
			}
			return tw.Flush()
		},
	}
}
