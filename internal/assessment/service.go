// Package assessment runs one books-health assessment end to end: token,
// report fetch, normalization, scoring and narrative.
package assessment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/aggregator"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/narrative"
	"github.com/bookhealth/bookhealth/internal/normalizer"
	"github.com/bookhealth/bookhealth/internal/progress"
	"github.com/bookhealth/bookhealth/internal/scoring"
	"github.com/google/uuid"
)

// TokenSource hands out a usable token, refreshing when needed.
type TokenSource interface {
	ValidToken(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error)
}

// Fetcher gathers the raw reports.
type Fetcher interface {
	FetchAll(ctx context.Context, req aggregator.FetchRequest, observers ...progress.Observer) (*models.RawReportBundle, error)
}

// Request starts an assessment.
type Request struct {
	UserID  string
	RealmID string
	// WindowDays of zero selects the configured default.
	WindowDays int
	// AsOf of zero selects today.
	AsOf time.Time
}

// Service is safe for concurrent use.
type Service struct {
	tokens     TokenSource
	fetcher    Fetcher
	normalizer *normalizer.Normalizer
	engine     *scoring.Engine
	generator  narrative.Generator
	audit      logging.AuditSink
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	windowDays int

	mu          sync.Mutex
	generations map[string]uint64
}

// Option configures a Service.
type Option func(*Service)

// WithGenerator enables generated narrative.
func WithGenerator(g narrative.Generator) Option {
	return func(s *Service) { s.generator = g }
}

// WithAuditSink records an audit event per run.
func WithAuditSink(a logging.AuditSink) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for default dates and stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultWindowDays sets the window used when a request has none.
func WithDefaultWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.windowDays = days
		}
	}
}

// NewService wires a service. tokens and fetcher may be nil for offline
// use through Assess.
func NewService(tokens TokenSource, fetcher Fetcher, n *normalizer.Normalizer, engine *scoring.Engine, opts ...Option) *Service {
	s := &Service{
		tokens:      tokens,
		fetcher:     fetcher,
		normalizer:  n,
		engine:      engine,
		logger:      logging.Nop(),
		now:         time.Now,
		windowDays:  models.DefaultWindowDays,
		generations: make(map[string]uint64),
	}
	if s.normalizer == nil {
		s.normalizer = normalizer.New()
	}
	if s.engine == nil {
		s.engine = scoring.Default()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window resolves the date window for a request.
func (s *Service) Window(req Request) (models.DateWindow, error) {
	days := req.WindowDays
	if days == 0 {
		days = s.windowDays
	}
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	return models.NewDateWindow(days, asOf)
}

// Run fetches fresh reports and assesses them. When a newer run for the
// same user and realm starts before this one finishes fetching, this run
// returns ErrStaleFetch and its data is discarded.
func (s *Service) Run(ctx context.Context, req Request, observers ...progress.Observer) (*models.AssessmentResult, error) {
	if s.tokens == nil || s.fetcher == nil {
		return nil, fmt.Errorf("assessment service has no token source or fetcher")
	}
	window, err := s.Window(req)
	if err != nil {
		return nil, err
	}
	tok, err := s.tokens.ValidToken(ctx, req.UserID, req.RealmID)
	if err != nil {
		s.fail(ctx, req.UserID, req.RealmID, "token", err)
		return nil, err
	}

	key := req.UserID + "\x00" + tok.RealmID
	gen := s.begin(key)

	raw, err := s.fetcher.FetchAll(ctx, aggregator.FetchRequest{RealmID: tok.RealmID, Token: tok, Window: window}, observers...)
	if err != nil {
		s.fail(ctx, req.UserID, tok.RealmID, "fetch", err)
		return nil, err
	}
	if !s.current(key, gen) {
		s.logger.InfoWithContext(ctx, "discarding stale fetch", "fetch_id", raw.FetchID, "realm_id", tok.RealmID)
		return nil, errors.ErrStaleFetch
	}

	result, err := s.Assess(ctx, raw)
	if err != nil {
		s.fail(ctx, req.UserID, tok.RealmID, "score", err)
		return nil, err
	}

	s.logger.Audit(ctx, s.audit, logging.NewAuditEvent(logging.AssessmentRun, "run", logging.StatusSuccess).
		WithUserID(req.UserID).WithRealmID(tok.RealmID).
		WithDetails(map[string]interface{}{
			"assessment_id": result.ID,
			"fetch_id":      raw.FetchID,
			"overall_score": result.OverallScore,
			"readiness":     string(result.Readiness),
		}))
	return result, nil
}

// Assess normalizes, scores and narrates an already fetched bundle.
func (s *Service) Assess(ctx context.Context, raw *models.RawReportBundle) (*models.AssessmentResult, error) {
	for _, st := range raw.Statuses() {
		if !st.Terminal() {
			return nil, fmt.Errorf("report bundle %s is still in progress", raw.FetchID)
		}
	}
	if failed := raw.Failed(); len(failed) > 0 && len(failed) < len(models.AllReportTypes) {
		s.logger.WarnWithContext(ctx, (&errors.PartialDataError{Failed: failed}).Error(), "fetch_id", raw.FetchID)
	}

	n, engine := s.pipeline()
	pillars, err := n.Normalize(ctx, raw)
	if err != nil {
		return nil, err
	}
	card, err := engine.Score(pillars)
	if err != nil {
		s.logger.ErrorWithContext(ctx, "scoring refused bundle", "fetch_id", raw.FetchID, "error", err.Error())
		return nil, err
	}

	result := &models.AssessmentResult{
		ID:           uuid.NewString(),
		PillarScores: card.PillarScores,
		OverallScore: card.OverallScore,
		Readiness:    card.Readiness,
		Metadata: models.AssessmentMetadata{
			AssessedAt:   s.now().UTC(),
			Window:       raw.Window,
			AsOf:         pillars.AsOf,
			ScoringModel: card.Model,
			RealmID:      raw.RealmID,
			DataQuality:  pillars.Warnings,
			ReportStatus: raw.Statuses(),
		},
	}

	var sections *narrative.Sections
	if s.generator != nil {
		sections, err = s.generator.Generate(ctx, result)
		if err != nil {
			s.logger.WarnWithContext(ctx, "narrative generation failed; using engine text", "error", err.Error())
			sections = nil
		}
	}
	narrative.Merge(result, sections)

	scores := make(map[string]int, len(result.PillarScores))
	for _, ps := range result.PillarScores {
		scores[string(ps.Pillar)] = ps.Score
	}
	s.metrics.RecordAssessment(string(result.Readiness), scores)
	s.logger.InfoWithContext(ctx, "assessment complete",
		"assessment_id", result.ID,
		"realm_id", raw.RealmID,
		"overall_score", result.OverallScore,
		"readiness", string(result.Readiness),
		"narrative_source", string(result.Narrative.Source),
	)
	return result, nil
}

// Reconfigure swaps the normalizer and scoring engine used by later
// runs. Nil arguments keep the current value.
func (s *Service) Reconfigure(n *normalizer.Normalizer, engine *scoring.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != nil {
		s.normalizer = n
	}
	if engine != nil {
		s.engine = engine
	}
}

func (s *Service) pipeline() (*normalizer.Normalizer, *scoring.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.normalizer, s.engine
}

func (s *Service) begin(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[key]++
	return s.generations[key]
}

func (s *Service) current(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[key] == gen
}

func (s *Service) fail(ctx context.Context, userID, realmID, stage string, err error) {
	s.logger.Audit(ctx, s.audit, logging.NewAuditEvent(logging.AssessmentRun, "run", logging.StatusFailure).
		WithUserID(userID).WithRealmID(realmID).WithSeverity(logging.SeverityWarning).
		WithDetails(map[string]interface{}{"stage": stage}).
		WithError(err.Error()))
}
