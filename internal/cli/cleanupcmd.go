package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/bookhealth/bookhealth/internal/cleanup"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the retention sweep once",
	Long: `Remove expired OAuth states and audit events older than
storage.cleanup.audit_retention. Token records are only removed by
"tokens purge".`,
	RunE: runCleanupOnce,
}

var cleanupVacuum bool

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupVacuum, "vacuum", false, "Compact the database afterwards")
	RootCmd.AddCommand(cleanupCmd)
}

func runCleanupOnce(cmd *cobra.Command, args []string) error {
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

	sweeper, ok := st.(store.Sweeper)
	if !ok {
		return fmt.Errorf("storage driver %s does not support cleanup", cfg.Storage.Driver)
	}
	mgr, err := cleanup.NewManager(cleanup.Config{
		RetentionPolicies: cleanup.PoliciesFromConfig(cfg.Storage.Cleanup),
		VacuumEnabled:     cleanupVacuum || cfg.Storage.Cleanup.Vacuum,
	}, sweeper, nil, logger)
	if err != nil {
		return err
	}

	stats := mgr.RunCleanup(ctx)
	if globalFlags.JSON {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tDELETED\tERROR")
	for _, res := range stats.LastRunResults {
		msg := ""
		if res.Error != nil {
			msg = res.Error.Error()
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", res.Target, res.DeletedCount, msg)
	}
	return tw.Flush()
}
