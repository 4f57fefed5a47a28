package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/spf13/cobra"
)

// Exit codes returned by ExecuteWithErrorCode.
const (
	ExitOK = iota
	ExitFailure
	ExitConfig
	ExitNotConnected
	ExitScoring
)

var (
	cliInitialized bool
	cliInitMutex   sync.Mutex
)

// Execute runs the root command with the given arguments
func Execute(args []string) error {
	RootCmd.SetArgs(args)

	if err := RootCmd.Execute(); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}

	return nil
}

// ExecuteWithErrorCode runs the root command and returns an exit code
// that distinguishes configuration problems, missing connections and
// scoring refusals from other failures.
func ExecuteWithErrorCode(args []string) int {
	RootCmd.SetArgs(args)
	RootCmd.SilenceErrors = true

	err := RootCmd.Execute()
	if err == nil {
		return ExitOK
	}
	reportError(os.Stderr, err)
	return exitCode(err)
}

func exitCode(err error) int {
	var (
		notFound   *errors.ErrConfigNotFound
		parse      *errors.ErrConfigParse
		validation *errors.ErrConfigValidation
		noToken    *errors.NoTokenFound
		invariant  *errors.ScoringInvariantViolation
	)
	switch {
	case stderrors.As(err, &notFound), stderrors.As(err, &parse), stderrors.As(err, &validation):
		return ExitConfig
	case stderrors.As(err, &noToken):
		return ExitNotConnected
	case stderrors.As(err, &invariant):
		return ExitScoring
	}
	return ExitFailure
}

// reportError prints the error, plus the user-facing hint for domain
// failures.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	switch exitCode(err) {
	case ExitNotConnected, ExitScoring:
		fmt.Fprintln(w, errors.UserMessage(err))
	}
}

// GetRootCommand returns the root command
func GetRootCommand() *cobra.Command {
	return RootCmd
}

// InitCLI initializes the CLI framework with all commands
func InitCLI() {
	cliInitMutex.Lock()
	defer cliInitMutex.Unlock()

	if cliInitialized {
		return
	}

	InitRoot()

	// Subcommands register themselves in init().

	cliInitialized = true
}
