package scoring

import (
	"fmt"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/shopspring/decimal"
)

const (
	// ScoringModelID is stamped on every result so scores from different
	// rule sets are never compared.
	ScoringModelID = "bookhealth-rules-v1"

	ReadyThreshold      = 85
	MinorFixesThreshold = 70

	// DefaultWeight is each pillar's share of the overall score in basis
	// points.
	DefaultWeight = 2000
	totalWeight   = 10000
)

var (
	defaultVarianceTolerance = decimal.New(1, -2)
	defaultAgingTolerance    = decimal.New(5, -2)
)

// Weights maps each pillar to basis points. They must sum to 10000.
type Weights map[models.Pillar]int

// DefaultWeights weighs every pillar equally.
func DefaultWeights() Weights {
	w := make(Weights, len(models.AllPillars))
	for _, p := range models.AllPillars {
		w[p] = DefaultWeight
	}
	return w
}

// Config holds the tunable parts of the rule set.
type Config struct {
	Weights             Weights
	ReadyThreshold      int
	MinorFixesThreshold int
	VarianceTolerance   decimal.Decimal
	AgingTolerance      decimal.Decimal
}

// DefaultConfig returns the stock rule set.
func DefaultConfig() Config {
	return Config{
		Weights:             DefaultWeights(),
		ReadyThreshold:      ReadyThreshold,
		MinorFixesThreshold: MinorFixesThreshold,
		VarianceTolerance:   defaultVarianceTolerance,
		AgingTolerance:      defaultAgingTolerance,
	}
}

// FromAssessmentConfig overlays the configured overrides on the defaults.
func FromAssessmentConfig(ac config.AssessmentConfig) (Config, error) {
	c := DefaultConfig()
	if len(ac.Scoring.Weights) > 0 {
		c.Weights = make(Weights, len(ac.Scoring.Weights))
		for name, bp := range ac.Scoring.Weights {
			c.Weights[models.Pillar(name)] = bp
		}
	}
	if ac.Scoring.ReadyThreshold != 0 {
		c.ReadyThreshold = ac.Scoring.ReadyThreshold
	}
	if ac.Scoring.MinorFixesThreshold != 0 {
		c.MinorFixesThreshold = ac.Scoring.MinorFixesThreshold
	}
	for _, tol := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{ac.VarianceTolerance, &c.VarianceTolerance},
		{ac.AgingTolerance, &c.AgingTolerance},
	} {
		if tol.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(tol.raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid tolerance %q: %w", tol.raw, err)
		}
		*tol.dst = d
	}
	return c, c.Validate()
}

// Validate checks weights and thresholds.
func (c Config) Validate() error {
	sum := 0
	for _, p := range models.AllPillars {
		bp, ok := c.Weights[p]
		if !ok {
			return fmt.Errorf("missing weight for pillar %s", p)
		}
		if bp < 0 {
			return fmt.Errorf("weight for pillar %s must not be negative", p)
		}
		sum += bp
	}
	if len(c.Weights) != len(models.AllPillars) {
		return fmt.Errorf("weights must name exactly the %d pillars", len(models.AllPillars))
	}
	if sum != totalWeight {
		return fmt.Errorf("weights must sum to %d, got %d", totalWeight, sum)
	}
	if c.MinorFixesThreshold < 0 || c.ReadyThreshold > 100 || c.MinorFixesThreshold >= c.ReadyThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= minor_fixes (%d) < ready (%d) <= 100", c.MinorFixesThreshold, c.ReadyThreshold)
	}
	if c.VarianceTolerance.IsNegative() || c.AgingTolerance.IsNegative() {
		return fmt.Errorf("tolerances must not be negative")
	}
	return nil
}
