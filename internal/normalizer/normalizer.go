// Package normalizer turns a raw report bundle into the five pillar
// records the scoring engine consumes. It never fails on bad report
// content: unreadable reports degrade to "no data" states and leave a
// warning behind.
package normalizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/qboreport"
	"golang.org/x/text/cases"
)

// Mode selects how account names and numbers are compared when looking
// for duplicates.
type Mode string

const (
	ModeTrimCasefold Mode = "trim_casefold"
	ModeCasefold     Mode = "casefold"
	ModeExact        Mode = "exact"
)

// ParseMode validates a configured mode. Empty selects ModeTrimCasefold.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeTrimCasefold, nil
	case ModeTrimCasefold, ModeCasefold, ModeExact:
		return m, nil
	default:
		return "", fmt.Errorf("unknown duplicate normalization %q", s)
	}
}

// Normalizer is stateless and safe for concurrent use.
type Normalizer struct {
	mode   Mode
	logger *logging.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMode sets the duplicate normalization mode.
func WithMode(m Mode) Option {
	return func(n *Normalizer) {
		if m != "" {
			n.mode = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{mode: ModeTrimCasefold, logger: logging.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// run carries the state of one Normalize call. cases.Caser is not safe
// for concurrent use, so each call gets its own.
type run struct {
	ctx      context.Context
	n        *Normalizer
	raw      *models.RawReportBundle
	fold     cases.Caser
	reports  map[models.ReportType]*qboreport.Report
	txns     *transactions
	warnings []models.DataWarning
}

// Normalize builds the pillar bundle. Every pillar is always populated;
// missing inputs show up as no-data states plus warnings.
func (n *Normalizer) Normalize(ctx context.Context, raw *models.RawReportBundle) (*models.PillarDataBundle, error) {
	if raw == nil {
		return nil, fmt.Errorf("normalize: nil report bundle")
	}
	r := &run{
		ctx:     ctx,
		n:       n,
		raw:     raw,
		fold:    cases.Fold(),
		reports: make(map[models.ReportType]*qboreport.Report, len(models.AllReportTypes)),
	}
	for _, rt := range models.AllReportTypes {
		r.decode(rt)
	}

	chart := r.chart()
	tb := r.trialBalance()

	out := &models.PillarDataBundle{
		AsOf:   raw.Window.LastDay(),
		Window: raw.Window,
	}
	out.ChartIntegrity = r.chartIntegrity(chart)
	out.Reconciliation = r.reconciliation(chart, tb)
	out.Categorization = r.categorization()
	out.ControlAccounts = r.controlAccounts(chart, tb)
	out.ARAging = r.aging(models.ReportARAging, models.SideReceivable)
	out.APAging = r.aging(models.ReportAPAging, models.SidePayable)
	out.Warnings = r.warnings

	n.logger.DebugWithContext(ctx, "normalized report bundle",
		"fetch_id", raw.FetchID,
		"warnings", len(r.warnings),
		"bank_accounts", len(out.Reconciliation.Entries),
		"accounts", out.ChartIntegrity.TotalAccounts,
	)
	return out, nil
}

func (r *run) decode(rt models.ReportType) {
	rep := r.raw.Report(rt)
	if !rep.OK() {
		msg := "report was not fetched"
		if rep != nil && rep.Error != "" {
			msg = rep.Error
		}
		r.warn(models.WarnReportFailed, rt, msg)
		return
	}
	decoded, err := qboreport.Decode(string(rt), rep.Payload)
	if err != nil {
		var mr *errors.MalformedReport
		code := models.WarnReportFailed
		if stderrors.As(err, &mr) {
			code = models.WarnReportMalformed
		}
		r.n.logger.WarnWithContext(r.ctx, "report could not be decoded", "report", string(rt), "error", err.Error())
		r.warn(code, rt, err.Error())
		return
	}
	r.reports[rt] = decoded
}

// report returns the decoded report and whether it exists.
func (r *run) report(rt models.ReportType) (*qboreport.Report, bool) {
	rep, ok := r.reports[rt]
	return rep, ok
}

// malformed reports whether rt arrived but could not be decoded.
func (r *run) malformed(rt models.ReportType) bool {
	for _, w := range r.warnings {
		if w.Report == string(rt) && w.Code == models.WarnReportMalformed {
			return true
		}
	}
	return false
}

func (r *run) warn(code string, rt models.ReportType, msg string) {
	r.warnings = append(r.warnings, models.DataWarning{Code: code, Report: string(rt), Message: msg})
}

// label is the comparison key for well-known account names.
func (r *run) label(s string) string {
	return r.fold.String(strings.TrimSpace(s))
}

// dupKey is the comparison key for duplicate detection.
func (r *run) dupKey(s string) string {
	switch r.n.mode {
	case ModeExact:
		return s
	case ModeCasefold:
		return r.fold.String(s)
	default:
		return r.fold.String(strings.TrimSpace(s))
	}
}
