package cli

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bookhealth/bookhealth/internal/assessment"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var assessCmd = &cobra.Command{
	Use:   "assess <dir>",
	Short: "Score a directory of saved report payloads",
	Long: `Score reports saved from a previous fetch without contacting QuickBooks.

The directory holds one file per report, named after the report type:
  TransactionList.json ChartOfAccounts.json JournalReport.json
  TrialBalance.json AgedReceivableDetail.json AgedPayableDetail.json

A missing file is treated as a failed fetch for that report.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

var assessFlags struct {
	WindowDays int
	AsOf       string
	RealmID    string
}

func init() {
	assessCmd.Flags().IntVar(&assessFlags.WindowDays, "window-days", 0, "Window length in days (default from config)")
	assessCmd.Flags().StringVar(&assessFlags.AsOf, "as-of", "", "Last day of the window, YYYY-MM-DD (default today)")
	assessCmd.Flags().StringVar(&assessFlags.RealmID, "realm", "", "Realm id recorded in the result")

	RootCmd.AddCommand(assessCmd)
}

func runAssess(cmd *cobra.Command, args []string) error {
	cfg, err := loadOptionalConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	norm, engine, err := buildPipeline(cfg.Assessment, logger)
	if err != nil {
		return fmt.Errorf("invalid assessment settings: %w", err)
	}

	req := assessment.Request{WindowDays: assessFlags.WindowDays}
	if assessFlags.AsOf != "" {
		req.AsOf, err = models.ParseDate(assessFlags.AsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of: %w", err)
		}
	}

	svc := assessment.NewService(nil, nil, norm, engine,
		assessment.WithLogger(logger),
		assessment.WithDefaultWindowDays(cfg.Assessment.WindowDays))
	window, err := svc.Window(req)
	if err != nil {
		return err
	}

	bundle, err := readBundle(args[0], assessFlags.RealmID, window)
	if err != nil {
		return err
	}
	result, err := svc.Assess(context.Background(), bundle)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		return writeJSON(out, result)
	}
	printResult(out, result)
	return nil
}

func readBundle(dir, realmID string, window models.DateWindow) (*models.RawReportBundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	bundle := models.NewRawReportBundle(realmID, window)
	bundle.FetchID = uuid.NewString()
	bundle.StartedAt = time.Now().UTC()
	for _, rt := range models.AllReportTypes {
		path := filepath.Join(dir, string(rt)+".json")
		data, err := os.ReadFile(path)
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			bundle.Reports[rt] = &models.RawReport{Type: rt, Status: models.FetchError, Error: "file not found"}
		case err != nil:
			return nil, err
		case !json.Valid(data):
			bundle.Reports[rt] = &models.RawReport{Type: rt, Status: models.FetchError, Error: "file is not valid JSON"}
		default:
			bundle.Reports[rt] = &models.RawReport{Type: rt, Status: models.FetchCompleted, Payload: json.RawMessage(data)}
		}
	}
	bundle.EndedAt = time.Now().UTC()
	return bundle, nil
}

func printResult(w io.Writer, r *models.AssessmentResult) {
	fmt.Fprintf(w, "Overall score: %d (%s)\n", r.OverallScore, r.Readiness)
	fmt.Fprintf(w, "Window: %s to %s\n\n", r.Metadata.Window.StartDate(), r.Metadata.Window.EndDate())

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PILLAR\tSCORE\tSTATUS\tISSUES")
	for _, ps := range r.PillarScores {
		codes := make([]string, 0, len(ps.Issues))
		for _, is := range ps.Issues {
			codes = append(codes, is.Code)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ps.Pillar, ps.Score, ps.Status, strings.Join(codes, ","))
	}
	_ = tw.Flush()

	if len(r.Metadata.DataQuality) > 0 {
		fmt.Fprintln(w, "\nData quality:")
		for _, dw := range r.Metadata.DataQuality {
			fmt.Fprintf(w, "  - %s\n", dw.Message)
		}
	}
	fmt.Fprintf(w, "\nSummary:\n%s\n\nBookkeeper plan:\n%s\n", r.Narrative.BusinessOwnerSummary, r.Narrative.BookkeeperPlan)
}
