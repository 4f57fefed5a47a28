package assessment

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bookhealth/bookhealth/internal/aggregator"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/narrative"
	"github.com/bookhealth/bookhealth/internal/progress"
	"github.com/bookhealth/bookhealth/internal/scoring"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

type fakeTokens struct {
	err error
}

func (f *fakeTokens) ValidToken(_ context.Context, userID, realmID string) (*models.OAuthTokenRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if realmID == "" {
		realmID = "9130"
	}
	return &models.OAuthTokenRecord{ID: "t1", UserID: userID, RealmID: realmID, AccessToken: "at", Active: true}, nil
}

const chart = `{"QueryResponse": {"Account": [
	{"Id": "1", "Name": "Office Supplies", "AccountType": "Expense", "AccountSubType": "Supplies", "Classification": "Expense"},
	{"Id": "2", "Name": "office supplies", "AccountType": "Expense", "AccountSubType": "Supplies", "Classification": "Expense"}
]}}`

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	gate    map[int]chan struct{}
	started chan int
	last    aggregator.FetchRequest
}

func (f *fakeFetcher) FetchAll(ctx context.Context, req aggregator.FetchRequest, observers ...progress.Observer) (*models.RawReportBundle, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.last = req
	gate := f.gate[call]
	f.mu.Unlock()
	if f.started != nil {
		f.started <- call
	}
	if gate != nil {
		<-gate
	}

	b := models.NewRawReportBundle(req.RealmID, req.Window)
	b.FetchID = fmt.Sprintf("fetch-%d", call)
	for _, rt := range models.AllReportTypes {
		b.Reports[rt] = &models.RawReport{Type: rt, Status: models.FetchError, Error: "proxy returned status 502"}
	}
	b.Reports[models.ReportChartOfAccounts] = &models.RawReport{
		Type: models.ReportChartOfAccounts, Status: models.FetchCompleted, Payload: json.RawMessage(chart),
	}
	return b, nil
}

type fakeGenerator struct {
	sections *narrative.Sections
	err      error
}

func (g *fakeGenerator) Generate(context.Context, *models.AssessmentResult) (*narrative.Sections, error) {
	return g.sections, g.err
}

func newService(t *testing.T, tokens TokenSource, f Fetcher, opts ...Option) (*Service, *store.MemoryStore) {
	t.Helper()
	audit := store.NewMemoryStore()
	opts = append([]Option{WithClock(func() time.Time { return now }), WithAuditSink(audit)}, opts...)
	return NewService(tokens, f, nil, nil, opts...), audit
}

func TestRunProducesResult(t *testing.T) {
	f := &fakeFetcher{}
	svc, audit := newService(t, &fakeTokens{}, f)

	result, err := svc.Run(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "9130", f.last.RealmID)
	assert.Equal(t, "2024-07-01", f.last.Window.EndDate())
	assert.Equal(t, 90, f.last.Window.Days)

	assert.Equal(t, "bookhealth-rules-v1", result.Metadata.ScoringModel)
	assert.Equal(t, now, result.Metadata.AssessedAt)
	assert.Equal(t, models.FetchCompleted, result.Metadata.ReportStatus[models.ReportChartOfAccounts])
	assert.Equal(t, models.FetchError, result.Metadata.ReportStatus[models.ReportAPAging])
	assert.NotEmpty(t, result.Metadata.DataQuality)

	// Only the chart arrived: one duplicate name, clean control accounts,
	// nothing to score elsewhere.
	assert.Equal(t, 95, result.Score(models.PillarChartIntegrity))
	assert.Equal(t, 100, result.Score(models.PillarControlAccount))
	assert.Equal(t, 0, result.Score(models.PillarAging))
	assert.Equal(t, 39, result.OverallScore)
	assert.Equal(t, models.AdditionalCleanupRequired, result.Readiness)
	assert.Equal(t, models.NarrativeEngine, result.Narrative.Source)
	assert.NotEmpty(t, result.Narrative.BookkeeperPlan)

	events, err := audit.ListAuditEvents(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, logging.AssessmentRun, events[0].EventType)
	assert.Equal(t, logging.StatusSuccess, events[0].Status)
}

func TestRunUsesGeneratorProseOnly(t *testing.T) {
	gen := &fakeGenerator{sections: &narrative.Sections{
		BusinessOwnerSummary: "Your books need cleanup before month-end.",
		BookkeeperPlan:       "TBD",
	}}
	svc, _ := newService(t, &fakeTokens{}, &fakeFetcher{}, WithGenerator(gen))

	result, err := svc.Run(context.Background(), Request{UserID: "u1", WindowDays: 30})
	require.NoError(t, err)
	assert.Equal(t, models.NarrativeMixed, result.Narrative.Source)
	assert.Equal(t, "Your books need cleanup before month-end.", result.Narrative.BusinessOwnerSummary)
	assert.Equal(t, 39, result.OverallScore)

	gen.err = stderrors.New("generator timeout")
	result, err = svc.Run(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, models.NarrativeEngine, result.Narrative.Source)
}

func TestRunNoToken(t *testing.T) {
	svc, audit := newService(t, &fakeTokens{err: &errors.NoTokenFound{UserID: "u1"}}, &fakeFetcher{})
	_, err := svc.Run(context.Background(), Request{UserID: "u1"})
	assert.True(t, stderrors.As(err, new(*errors.NoTokenFound)))

	events, err := audit.ListAuditEvents(context.Background(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, logging.StatusFailure, events[0].Status)
}

func TestRunRejectsBadWindow(t *testing.T) {
	svc, _ := newService(t, &fakeTokens{}, &fakeFetcher{})
	_, err := svc.Run(context.Background(), Request{UserID: "u1", WindowDays: 400})
	assert.Error(t, err)
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	first := make(chan struct{})
	f := &fakeFetcher{gate: map[int]chan struct{}{1: first}, started: make(chan int, 2)}
	svc, _ := newService(t, &fakeTokens{}, f)

	var (
		wg       sync.WaitGroup
		staleErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, staleErr = svc.Run(context.Background(), Request{UserID: "u1", RealmID: "9130"})
	}()
	require.Equal(t, 1, <-f.started)

	// A newer run for the same connection completes while the first is
	// still fetching.
	fresh, err := svc.Run(context.Background(), Request{UserID: "u1", RealmID: "9130"})
	require.NoError(t, err)
	assert.NotNil(t, fresh)

	close(first)
	wg.Wait()
	assert.ErrorIs(t, staleErr, errors.ErrStaleFetch)

	// Other connections are unaffected.
	_, err = svc.Run(context.Background(), Request{UserID: "u2", RealmID: "9130"})
	assert.NoError(t, err)
}

func TestAssessRejectsInProgressBundle(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	b := models.NewRawReportBundle("9130", models.DateWindow{})
	for _, rt := range models.AllReportTypes {
		b.Reports[rt] = &models.RawReport{Type: rt, Status: models.FetchImporting}
	}
	_, err := svc.Assess(context.Background(), b)
	assert.Error(t, err)

	_, err = svc.Run(context.Background(), Request{UserID: "u1"})
	assert.Error(t, err)
}

func TestReconfigureSwapsEngine(t *testing.T) {
	svc, _ := newService(t, &fakeTokens{}, &fakeFetcher{})
	cfg := scoring.DefaultConfig()
	cfg.Weights = scoring.Weights{
		models.PillarReconciliation: 0,
		models.PillarChartIntegrity: 10000,
		models.PillarCategorization: 0,
		models.PillarControlAccount: 0,
		models.PillarAging:          0,
	}
	engine, err := scoring.NewEngine(cfg)
	require.NoError(t, err)
	svc.Reconfigure(nil, engine)

	result, err := svc.Run(context.Background(), Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 95, result.OverallScore)
}
