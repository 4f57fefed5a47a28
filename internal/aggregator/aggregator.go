// Package aggregator fetches every report an assessment needs, in
// parallel, and assembles them into one raw bundle.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/progress"
	"github.com/bookhealth/bookhealth/internal/proxy"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ReportFetcher retrieves one raw report.
type ReportFetcher interface {
	FetchReport(ctx context.Context, req proxy.ReportRequest) (json.RawMessage, error)
}

// FetchRequest describes one aggregation run.
type FetchRequest struct {
	// RealmID defaults to Token.RealmID.
	RealmID string
	Token   *models.OAuthTokenRecord
	Window  models.DateWindow
	// Reports defaults to models.AllReportTypes.
	Reports []models.ReportType
}

// Aggregator runs fetches against a ReportFetcher.
type Aggregator struct {
	fetcher     ReportFetcher
	concurrency int
	metrics     *metrics.Metrics
	logger      *logging.Logger
	now         func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency bounds the number of in-flight report fetches.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an aggregator.
func New(fetcher ReportFetcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		fetcher:     fetcher,
		concurrency: len(models.AllReportTypes),
		logger:      logging.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchAll fetches every requested report and returns once each has
// reached completed or error. A failing report never aborts the others
// and no substitute data is produced for it.
//
// FetchAll itself fails only when there is no token, the window is
// invalid, or ctx is done; in the last case the partial bundle is still
// returned alongside ctx.Err().
func (a *Aggregator) FetchAll(ctx context.Context, req FetchRequest, observers ...progress.Observer) (*models.RawReportBundle, error) {
	if req.Token == nil || req.Token.AccessToken == "" {
		return nil, &errors.NoTokenFound{RealmID: req.RealmID}
	}
	if req.Window.IsZero() || req.Window.Days < models.MinWindowDays || req.Window.Days > models.MaxWindowDays {
		return nil, fmt.Errorf("invalid report window")
	}
	realmID := req.RealmID
	if realmID == "" {
		realmID = req.Token.RealmID
	}
	reports := req.Reports
	if len(reports) == 0 {
		reports = models.AllReportTypes
	}

	bundle := models.NewRawReportBundle(realmID, req.Window)
	bundle.FetchID = uuid.NewString()
	bundle.StartedAt = a.now().UTC()

	tracker := progress.NewTracker(bundle.FetchID, reports, observers...)
	logger := a.logger.With("fetch_id", bundle.FetchID, "realm_id", realmID)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)

	for _, rt := range reports {
		rt := rt
		g.Go(func() error {
			result := a.fetchOne(ctx, tracker, logger, proxy.ReportRequest{
				RealmID:     realmID,
				AccessToken: req.Token.AccessToken,
				ReportType:  rt,
				StartDate:   req.Window.StartDate(),
				EndDate:     req.Window.EndDate(),
			})
			mu.Lock()
			bundle.Reports[rt] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	bundle.EndedAt = a.now().UTC()
	if !tracker.Done() {
		return nil, fmt.Errorf("report fetch %s ended with reports still in flight", bundle.FetchID)
	}
	if failed := bundle.Failed(); len(failed) > 0 {
		logger.WarnWithContext(ctx, "report fetch finished with failures", "failed", len(failed), "total", len(reports))
	} else {
		logger.InfoWithContext(ctx, "report fetch complete", "total", len(reports))
	}

	if err := ctx.Err(); err != nil {
		return bundle, err
	}
	return bundle, nil
}

func (a *Aggregator) fetchOne(ctx context.Context, tracker *progress.Tracker, logger *logging.Logger, req proxy.ReportRequest) *models.RawReport {
	start := a.now()
	result := &models.RawReport{Type: req.ReportType}

	finish := func(status models.FetchStatus, errText string) *models.RawReport {
		result.Status = status
		result.Error = errText
		result.Duration = a.now().Sub(start)
		if err := tracker.Transition(req.ReportType, status, errText); err != nil {
			logger.ErrorWithContext(ctx, "progress transition rejected", "report", string(req.ReportType), "error", err.Error())
		}
		a.metrics.RecordReportFetch(string(req.ReportType), string(status), result.Duration.Seconds())
		return result
	}

	// Every report passes through importing, even one abandoned before
	// its call was issued.
	if err := tracker.Transition(req.ReportType, models.FetchImporting, ""); err != nil {
		logger.ErrorWithContext(ctx, "progress transition rejected", "report", string(req.ReportType), "error", err.Error())
	}
	if err := ctx.Err(); err != nil {
		return finish(models.FetchError, err.Error())
	}

	payload, err := a.fetcher.FetchReport(ctx, req)
	if err != nil {
		logger.WarnWithContext(ctx, "report fetch failed", "report", string(req.ReportType), "error", err.Error())
		return finish(models.FetchError, err.Error())
	}
	result.Payload = payload
	return finish(models.FetchCompleted, "")
}
