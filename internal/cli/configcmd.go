package cli

import (
	"fmt"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/scoring"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ResolvePath(globalFlags.Config)
		cfg, err := config.NewLoader(path).Load()
		if err == nil {
			// Tolerances and weights are checked again the way the engine reads them.
			var sc scoring.Config
			if sc, err = scoring.FromAssessmentConfig(cfg.Assessment); err == nil {
				_, err = scoring.NewEngine(sc)
			}
		}

		out := cmd.OutOrStdout()
		if globalFlags.JSON {
			resp := map[string]interface{}{"path": path, "valid": err == nil}
			if err != nil {
				resp["error"] = err.Error()
			}
			if werr := writeJSON(out, resp); werr != nil {
				return werr
			}
			return err
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(out, "%s: OK (storage=%s, window_days=%d)\n", path, cfg.Storage.Driver, cfg.Assessment.WindowDays)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	RootCmd.AddCommand(configCmd)
}
