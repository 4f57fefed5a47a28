// Package scoring maps a normalized pillar bundle to pillar sub-scores,
// an overall score and a readiness tier. It is a pure function of its
// input: no clock, no randomness, integer weight arithmetic.
package scoring

import (
	"fmt"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/models"
)

// ScoreCard is the numeric part of an assessment.
type ScoreCard struct {
	Model        string               `json:"scoring_model"`
	PillarScores []models.PillarScore `json:"pillar_scores"`
	OverallScore int                  `json:"overall_score"`
	Readiness    models.Readiness     `json:"readiness"`
}

// Issues returns every issue across pillars in pillar order.
func (s *ScoreCard) Issues() []models.Issue {
	var out []models.Issue
	for _, ps := range s.PillarScores {
		out = append(out, ps.Issues...)
	}
	return out
}

// Engine scores bundles under one rule configuration.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Default returns an engine with the stock rule set.
func Default() *Engine {
	return &Engine{cfg: DefaultConfig()}
}

// Config returns the active rule configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Score evaluates the bundle. A ScoringInvariantViolation means the input
// or the rules are broken and no score may be shown.
func (e *Engine) Score(b *models.PillarDataBundle) (*ScoreCard, error) {
	if b == nil {
		return nil, fmt.Errorf("score: nil pillar bundle")
	}
	if err := e.checkAging(b.ARAging); err != nil {
		return nil, err
	}
	if err := e.checkAging(b.APAging); err != nil {
		return nil, err
	}

	card := &ScoreCard{
		Model: ScoringModelID,
		PillarScores: []models.PillarScore{
			e.reconciliation(b.Reconciliation),
			e.chartIntegrity(b.ChartIntegrity),
			e.categorization(b.Categorization),
			e.controlAccounts(b.ControlAccounts),
			e.aging(b),
		},
	}

	weighted := 0
	for _, ps := range card.PillarScores {
		if ps.Score < 0 || ps.Score > 100 {
			return nil, &errors.ScoringInvariantViolation{
				Pillar: string(ps.Pillar),
				Detail: fmt.Sprintf("score %d outside [0,100]", ps.Score),
			}
		}
		weighted += ps.Score * e.cfg.Weights[ps.Pillar]
	}
	// Round half up.
	card.OverallScore = (weighted + totalWeight/2) / totalWeight
	if card.OverallScore < 0 || card.OverallScore > 100 {
		return nil, &errors.ScoringInvariantViolation{
			Pillar: "overall",
			Detail: fmt.Sprintf("score %d outside [0,100]", card.OverallScore),
		}
	}
	card.Readiness = e.Readiness(card.OverallScore)
	return card, nil
}

// Readiness maps an overall score to its tier.
func (e *Engine) Readiness(overall int) models.Readiness {
	switch {
	case overall >= e.cfg.ReadyThreshold:
		return models.ReadyForMonthlyOperations
	case overall >= e.cfg.MinorFixesThreshold:
		return models.MinorFixesNeeded
	default:
		return models.AdditionalCleanupRequired
	}
}

func (e *Engine) checkAging(a models.AgingBuckets) error {
	if !a.Present {
		return nil
	}
	if !a.Reconciles(e.cfg.AgingTolerance) {
		return &errors.ScoringInvariantViolation{
			Pillar: string(models.PillarAging),
			Detail: fmt.Sprintf("%s buckets sum to %s but reported total is %s", a.Side, a.Sum().StringFixed(2), a.ReportedTotal.StringFixed(2)),
		}
	}
	return nil
}
