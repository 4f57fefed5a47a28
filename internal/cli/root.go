package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X .../internal/cli.version=...".
var (
	version   = "0.1.0"
	buildDate = "unknown"
)

// EnvDBPath names the environment variable holding the database path.
const EnvDBPath = "BOOKHEALTH_DB_PATH"

// GlobalFlags contains global flags available for all commands
type GlobalFlags struct {
	Config  string
	DBPath  string
	Verbose bool
	JSON    bool
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "bookhealth",
	Short: "BookHealth - QuickBooks books hygiene assessment",
	Long: `BookHealth connects to a QuickBooks Online company, pulls the
reports a bookkeeper looks at first and scores the books on five pillars:
bank reconciliation, chart of accounts integrity, categorization, control
accounts and A/R and A/P aging.

Usage:
  bookhealth [command] [flags]

Available Commands:
  serve      Start the BookHealth API server
  assess     Score a directory of saved report payloads offline
  tokens     List, deactivate or purge stored connections
  config     Validate a configuration file
  cleanup    Run the retention sweep once
  version    Print version information

Flags:
  --config string   Path to configuration file (default "config.yaml")
  --db string       Path to SQLite database (default "./data/bookhealth.db")
  --verbose         Enable verbose output
  --json            Output in JSON format

Use "bookhealth [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// InitRoot initializes the root command with global flags
func InitRoot() {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = "config.yaml"
	}
	dbPath := os.Getenv(EnvDBPath)
	if dbPath == "" {
		dbPath = "./data/bookhealth.db"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&globalFlags.DBPath, "db", dbPath, "Path to SQLite database")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of BookHealth",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(cmd.OutOrStdout())
	},
}

var globalFlags GlobalFlags

// GetGlobalFlags returns the global flags
func GetGlobalFlags() GlobalFlags {
	return globalFlags
}

func printVersion(w io.Writer) error {
	info := GetVersionInfo()
	if globalFlags.JSON {
		return writeJSON(w, info)
	}
	fmt.Fprintln(w, "BookHealth Version:", info.Version)
	fmt.Fprintln(w, "Go Version:", info.GoVersion)
	fmt.Fprintln(w, "OS/Arch:", info.OS+"/"+info.Arch)
	fmt.Fprintln(w, "Build Date:", info.BuildDate)
	return nil
}

// VersionInfo contains version information
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	BuildDate string `json:"build_date"`
}

// GetVersionInfo returns version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   version,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		BuildDate: buildDate,
	}
}
