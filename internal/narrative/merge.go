// Package narrative layers optional generated prose over an engine
// result. Generated text may only fill the prose fields; anything that
// looks like template filler is replaced by engine-derived text.
package narrative

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/scoring"
)

// Sections is the prose a Generator returns.
type Sections struct {
	BusinessOwnerSummary string `json:"business_owner_summary"`
	BookkeeperPlan       string `json:"bookkeeper_plan"`
}

// Generator produces prose for a scored result.
type Generator interface {
	Generate(ctx context.Context, result *models.AssessmentResult) (*Sections, error)
}

var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{[^}]*\}\}`),
	regexp.MustCompile(`^\s*[\[{<][^\]}>]*[\]}>]\s*$`),
	regexp.MustCompile(`(?i)\[(insert|your|company|client|business|name|date|amount|number|tbd|todo|placeholder)[^\]]*\]`),
	regexp.MustCompile(`(?i)\{(insert|your|company|client|business|name|date|amount|number)[^}]*\}`),
	regexp.MustCompile(`\b(TBD|TODO)\b`),
	regexp.MustCompile(`(?i)^\s*n/?a\.?\s*$`),
	regexp.MustCompile(`(?i)lorem ipsum`),
	regexp.MustCompile(`(?i)\bplaceholder\b`),
	regexp.MustCompile(`(?i)\binsert\b.{0,60}\bhere\b`),
	regexp.MustCompile(`\bXX+\b`),
}

// IsPlaceholder reports whether text is empty or template filler.
func IsPlaceholder(text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	for _, re := range placeholderPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Merge sets result.Narrative from sections, falling back per field to
// engine text. Numeric fields are never read from sections.
func Merge(result *models.AssessmentResult, sections *Sections) {
	if sections == nil {
		sections = &Sections{}
	}
	used := 0
	summary := sections.BusinessOwnerSummary
	if IsPlaceholder(summary) {
		summary = FallbackSummary(result)
	} else {
		used++
	}
	plan := sections.BookkeeperPlan
	if IsPlaceholder(plan) {
		plan = FallbackPlan(result)
	} else {
		used++
	}

	source := models.NarrativeMixed
	switch used {
	case 0:
		source = models.NarrativeEngine
	case 2:
		source = models.NarrativeGenerator
	}
	result.Narrative = models.Narrative{
		BusinessOwnerSummary: strings.TrimSpace(summary),
		BookkeeperPlan:       strings.TrimSpace(plan),
		Source:               source,
	}
}

var pillarTitles = map[models.Pillar]string{
	models.PillarReconciliation: "Bank reconciliation",
	models.PillarChartIntegrity: "Chart of accounts",
	models.PillarCategorization: "Categorization",
	models.PillarControlAccount: "Control accounts",
	models.PillarAging:          "A/R and A/P aging",
}

var readinessText = map[models.Readiness]string{
	models.ReadyForMonthlyOperations: "The books are ready for monthly operations.",
	models.MinorFixesNeeded:          "The books need minor fixes before monthly operations.",
	models.AdditionalCleanupRequired: "The books need additional cleanup before monthly operations.",
}

var remediation = map[string]string{
	scoring.IssueReconciliationNoData:      "Connect bank feeds and export the transaction list so reconciliation can be checked.",
	scoring.IssueReconciliationUnparseable: "Include the cleared status column in the transaction list export.",
	scoring.IssueUnreconciledVariance:      "Reconcile each bank account with a variance to its statement ending balance.",
	scoring.IssueStaleUncleared:            "Review uncleared items older than 30 days; void duplicates or clear them against statements.",
	scoring.IssueChartMissing:              "Make the chart of accounts available to the assessment.",
	scoring.IssueDuplicateNames:            "Merge or rename accounts with duplicate names.",
	scoring.IssueDuplicateNumbers:          "Assign unique account numbers.",
	scoring.IssueMissingDetail:             "Fill in account type and detail type for every account.",
	scoring.IssueOrphanSubAccounts:         "Reattach sub-accounts to an existing parent account.",
	scoring.IssueCategorizationMissing:     "Make transaction data available so categorization can be checked.",
	scoring.IssueUncategorizedItems:        "Recategorize transactions sitting in Uncategorized or Ask My Accountant accounts.",
	scoring.IssueUncategorizedAmount:       "Prioritize the largest uncategorized amounts first.",
	scoring.IssueControlMissing:            "Make the chart of accounts or trial balance available to the assessment.",
	scoring.IssueOpeningBalanceEquity:      "Close Opening Balance Equity into retained earnings or owner equity.",
	scoring.IssueUndepositedFunds:          "Record bank deposits for payments sitting in Undeposited Funds.",
	scoring.IssueNegativeAR:                "Apply unapplied customer payments and credits to open invoices.",
	scoring.IssueNegativeAP:                "Apply vendor credits and check for bills paid twice.",
	scoring.IssueJournalToARAP:             "Replace journal entries to A/R or A/P with invoices, bills or payments.",
	scoring.IssueControlUnresolved:         "Make the trial balance and chart of accounts available so control balances can be checked.",
	scoring.IssueJournalUnknown:            "Make the journal report available so direct A/R and A/P postings can be checked.",
	scoring.IssueAgingMissing:              "Make the A/R and A/P aging reports available to the assessment.",
	scoring.IssueAgingMismatch:             "Find the transactions that make the aging report disagree with the balance sheet.",
	scoring.IssueAgingUnverified:           "Make the balance sheet accounts available so aging totals can be verified.",
	scoring.IssueAging90Plus:               "Collect, pay or write off balances more than 90 days past due.",
	scoring.IssueAging61To90:               "Follow up on balances 61 to 90 days past due.",
}

// FallbackSummary is the engine's owner-facing summary.
func FallbackSummary(result *models.AssessmentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall books health score: %d/100. %s\n", result.OverallScore, readinessText[result.Readiness])

	scores := append([]models.PillarScore(nil), result.PillarScores...)
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score < scores[j].Score })
	for _, ps := range scores {
		line := fmt.Sprintf("- %s: %d/100", pillarTitles[ps.Pillar], ps.Score)
		if len(ps.Issues) > 0 {
			line += " (" + ps.Issues[0].Detail + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// FallbackPlan is the engine's bookkeeper remediation list, largest
// penalties first.
func FallbackPlan(result *models.AssessmentResult) string {
	type step struct {
		penalty int
		text    string
	}
	var steps []step
	seen := map[string]bool{}
	for _, ps := range result.PillarScores {
		for _, is := range ps.Issues {
			text, ok := remediation[is.Code]
			if !ok || seen[is.Code] {
				continue
			}
			seen[is.Code] = true
			steps = append(steps, step{is.Penalty, fmt.Sprintf("%s: %s", pillarTitles[ps.Pillar], text)})
		}
	}
	if len(steps) == 0 {
		return "- No cleanup items found. Continue monthly reconciliation and review."
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].penalty > steps[j].penalty })
	var b strings.Builder
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.text)
	}
	return b.String()
}
