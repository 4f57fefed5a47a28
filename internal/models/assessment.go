package models

import (
	"time"
)

// Readiness is the ordered business-facing tier of an overall score.
type Readiness string

const (
	ReadyForMonthlyOperations Readiness = "READY_FOR_MONTHLY_OPERATIONS"
	MinorFixesNeeded          Readiness = "MINOR_FIXES_NEEDED"
	AdditionalCleanupRequired Readiness = "ADDITIONAL_CLEANUP_REQUIRED"
)

// Rank orders readiness tiers; higher is better.
func (r Readiness) Rank() int {
	switch r {
	case ReadyForMonthlyOperations:
		return 2
	case MinorFixesNeeded:
		return 1
	default:
		return 0
	}
}

// Issue is one detected problem and the points it cost.
type Issue struct {
	Code    string `json:"code"`
	Count   int    `json:"count,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Penalty int    `json:"penalty"`
	Detail  string `json:"detail"`
}

// PillarScore is one pillar's sub-score.
type PillarScore struct {
	Pillar Pillar     `json:"pillar"`
	Score  int        `json:"score"`
	Status DataStatus `json:"status"`
	Issues []Issue    `json:"issues,omitempty"`
}

// NarrativeSource records where the prose came from.
type NarrativeSource string

const (
	NarrativeEngine    NarrativeSource = "engine"
	NarrativeGenerator NarrativeSource = "generator"
	NarrativeMixed     NarrativeSource = "mixed"
)

// Narrative holds the prose sections of an assessment.
type Narrative struct {
	BusinessOwnerSummary string          `json:"business_owner_summary"`
	BookkeeperPlan       string          `json:"bookkeeper_plan"`
	Source               NarrativeSource `json:"source"`
}

// AssessmentMetadata describes how and when a result was produced.
type AssessmentMetadata struct {
	AssessedAt   time.Time                  `json:"assessed_at"`
	Window       DateWindow                 `json:"window"`
	AsOf         time.Time                  `json:"as_of"`
	ScoringModel string                     `json:"scoring_model"`
	RealmID      string                     `json:"realm_id,omitempty"`
	DataQuality  []DataWarning              `json:"data_quality,omitempty"`
	ReportStatus map[ReportType]FetchStatus `json:"report_status,omitempty"`
}

// AssessmentResult is computed fresh on every run and never stored as the
// source of truth. Numeric fields come only from the scoring engine.
type AssessmentResult struct {
	ID           string             `json:"id"`
	PillarScores []PillarScore      `json:"pillar_scores"`
	OverallScore int                `json:"overall_score"`
	Readiness    Readiness          `json:"readiness"`
	Narrative    Narrative          `json:"narrative"`
	Metadata     AssessmentMetadata `json:"metadata"`
}

// Score returns the sub-score for p, or -1 when absent.
func (r *AssessmentResult) Score(p Pillar) int {
	for _, ps := range r.PillarScores {
		if ps.Pillar == p {
			return ps.Score
		}
	}
	return -1
}
