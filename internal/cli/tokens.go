package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/bookhealth/bookhealth/internal/tokens"
	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"connections"},
	Short:   "List, deactivate or purge stored connections",
}

var tokensFlags struct {
	UserID  string
	RealmID string
	Limit   int
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List token records for a user with secrets redacted",
	RunE: withTokens(func(cmd *cobra.Command, ctx context.Context, st store.Store, m *tokens.Manager) error {
		records, err := m.List(ctx, tokensFlags.UserID)
		if err != nil {
			return err
		}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), records)
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No connections.")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREALM\tACTIVE\tEXPIRES\tREASON")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", rec.ID, rec.RealmID, rec.Active,
				rec.ExpiresAt.Format(time.RFC3339), rec.DeactivationReason)
		}
		return tw.Flush()
	}),
}

var tokensDeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate the active connection (all realms unless --realm is set)",
	RunE: withTokens(func(cmd *cobra.Command, ctx context.Context, st store.Store, m *tokens.Manager) error {
		n, err := m.Deactivate(ctx, tokensFlags.UserID, tokensFlags.RealmID)
		if err != nil {
			return err
		}
		return printChange(cmd, "deactivated", n)
	}),
}

var tokensPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every token record (all realms unless --realm is set)",
	RunE: withTokens(func(cmd *cobra.Command, ctx context.Context, st store.Store, m *tokens.Manager) error {
		n, err := m.Purge(ctx, tokensFlags.UserID, tokensFlags.RealmID)
		if err != nil {
			return err
		}
		return printChange(cmd, "purged", n)
	}),
}

var tokensAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit events for a user",
	RunE: withTokens(func(cmd *cobra.Command, ctx context.Context, st store.Store, m *tokens.Manager) error {
		events, err := st.ListAuditEvents(ctx, tokensFlags.UserID, tokensFlags.Limit)
		if err != nil {
			return err
		}
		if globalFlags.JSON {
			return writeJSON(cmd.OutOrStdout(), events)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEVENT\tSTATUS\tREALM\tERROR")
		for _, e := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.EventType, e.Status, e.RealmID, e.ErrorMessage)
		}
		return tw.Flush()
	}),
}

func init() {
	tokensCmd.PersistentFlags().StringVar(&tokensFlags.UserID, "user", "", "User id (required)")
	tokensCmd.PersistentFlags().StringVar(&tokensFlags.RealmID, "realm", "", "Restrict to one realm")
	tokensAuditCmd.Flags().IntVar(&tokensFlags.Limit, "limit", 50, "Maximum events to show")
	_ = tokensCmd.MarkPersistentFlagRequired("user")

	tokensCmd.AddCommand(tokensListCmd, tokensDeactivateCmd, tokensPurgeCmd, tokensAuditCmd)
	RootCmd.AddCommand(tokensCmd)
}

type tokensFunc func(cmd *cobra.Command, ctx context.Context, st store.Store, m *tokens.Manager) error

// withTokens opens the store for the duration of one command. No
// refresher is wired: these commands never call the proxy.
func withTokens(fn tokensFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadOptionalConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)
		ctx := context.Background()

		st, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		m := tokens.NewManager(st, nil, tokens.WithLogger(logger.With("component", "tokens")))
		return fn(cmd, ctx, st, m)
	}
}

func printChange(cmd *cobra.Command, status string, n int) error {
	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"status": status, "records": n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d record(s)\n", status, n)
	return nil
}
