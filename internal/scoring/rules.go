package scoring

import (
	"fmt"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/shopspring/decimal"
)

const (
	maxScore       = 100
	agingSideScore = 50
)

// Issue codes. The fallback narrative keys its text off these.
const (
	IssueReconciliationNoData      = "reconciliation_no_data"
	IssueReconciliationUnparseable = "reconciliation_unparseable"
	IssueUnreconciledVariance      = "unreconciled_variance"
	IssueStaleUncleared            = "stale_uncleared_items"
	IssueChartMissing              = "chart_of_accounts_missing"
	IssueDuplicateNames            = "duplicate_account_names"
	IssueDuplicateNumbers          = "duplicate_account_numbers"
	IssueMissingDetail             = "accounts_missing_detail"
	IssueOrphanSubAccounts         = "orphan_sub_accounts"
	IssueCategorizationMissing     = "categorization_no_data"
	IssueUncategorizedItems        = "uncategorized_items"
	IssueUncategorizedAmount       = "uncategorized_amount"
	IssueControlMissing            = "control_accounts_no_data"
	IssueOpeningBalanceEquity      = "opening_balance_equity"
	IssueUndepositedFunds          = "undeposited_funds"
	IssueNegativeAR                = "negative_accounts_receivable"
	IssueNegativeAP                = "negative_accounts_payable"
	IssueJournalToARAP             = "journal_entries_to_ar_ap"
	IssueControlUnresolved         = "control_balance_unresolved"
	IssueJournalUnknown            = "journal_entries_unknown"
	IssueAgingMissing              = "aging_missing"
	IssueAgingMismatch             = "aging_control_mismatch"
	IssueAgingUnverified           = "aging_control_unverified"
	IssueAging90Plus               = "aging_over_90"
	IssueAging61To90               = "aging_61_90"
)

// countRule charges per occurrence up to a cap.
type countRule struct {
	code string
	per  int
	cap  int
}

func (r countRule) apply(n int, detail string) (models.Issue, bool) {
	if n <= 0 {
		return models.Issue{}, false
	}
	penalty := n * r.per
	if penalty > r.cap {
		penalty = r.cap
	}
	return models.Issue{Code: r.code, Count: n, Penalty: penalty, Detail: detail}, true
}

var (
	ruleVariance      = countRule{IssueUnreconciledVariance, 10, 40}
	ruleStale         = countRule{IssueStaleUncleared, 10, 40}
	ruleDupNames      = countRule{IssueDuplicateNames, 5, 40}
	ruleDupNumbers    = countRule{IssueDuplicateNumbers, 5, 30}
	ruleMissingDetail = countRule{IssueMissingDetail, 2, 20}
	ruleOrphans       = countRule{IssueOrphanSubAccounts, 5, 20}
	ruleUncategorized = countRule{IssueUncategorizedItems, 1, 30}
	ruleJournalToARAP = countRule{IssueJournalToARAP, 5, 30}
)

const (
	penaltyOBE         = 25
	penaltyUF          = 15
	penaltyNegativeAR  = 10
	penaltyNegativeAP  = 10
	penaltyAgingTotal  = 20
	penaltyAging90High = 25
	penaltyAging90Low  = 15
	penaltyAging61     = 10
)

// uncategorizedTiers are checked highest first.
var uncategorizedTiers = []struct {
	min       decimal.Decimal
	inclusive bool
	penalty   int
}{
	{decimal.NewFromInt(10000), true, 35},
	{decimal.NewFromInt(1000), true, 20},
	{decimal.Zero, false, 10},
}

// tally subtracts issue penalties from start with a floor of zero.
func tally(p models.Pillar, status models.DataStatus, start int, issues []models.Issue) models.PillarScore {
	score := start
	for _, is := range issues {
		score -= is.Penalty
	}
	if score < 0 {
		score = 0
	}
	if issues == nil {
		issues = []models.Issue{}
	}
	return models.PillarScore{Pillar: p, Score: score, Status: status, Issues: issues}
}

func noData(p models.Pillar, status models.DataStatus, code, detail string) models.PillarScore {
	return models.PillarScore{
		Pillar: p,
		Score:  0,
		Status: status,
		Issues: []models.Issue{{Code: code, Penalty: maxScore, Detail: detail}},
	}
}

func (e *Engine) reconciliation(r models.Reconciliation) models.PillarScore {
	switch r.Status {
	case models.DataNone:
		return noData(models.PillarReconciliation, r.Status, IssueReconciliationNoData, "no bank transaction data was available")
	case models.DataUnparseable:
		return noData(models.PillarReconciliation, r.Status, IssueReconciliationUnparseable,
			fmt.Sprintf("%d transaction rows found but cleared status could not be read", r.TotalRowsFound))
	}

	var variance, stale int
	for _, entry := range r.Entries {
		if entry.Variance.Abs().GreaterThan(e.cfg.VarianceTolerance) {
			variance++
		}
		if entry.StaleCount > 0 {
			stale++
		}
	}
	var issues []models.Issue
	if is, ok := ruleVariance.apply(variance, fmt.Sprintf("%d bank account(s) with unreconciled variance", variance)); ok {
		issues = append(issues, is)
	}
	if is, ok := ruleStale.apply(stale, fmt.Sprintf("%d bank account(s) with items uncleared over 30 days", stale)); ok {
		issues = append(issues, is)
	}
	return tally(models.PillarReconciliation, models.DataOK, maxScore, issues)
}

func (e *Engine) chartIntegrity(c models.ChartIntegrity) models.PillarScore {
	if !c.Present {
		return noData(models.PillarChartIntegrity, models.DataNone, IssueChartMissing, "chart of accounts was not available")
	}
	var issues []models.Issue
	for _, check := range []struct {
		rule   countRule
		n      int
		detail string
	}{
		{ruleDupNames, len(c.DuplicateNames), "duplicate account name(s)"},
		{ruleDupNumbers, len(c.DuplicateNumbers), "duplicate account number(s)"},
		{ruleMissingDetail, len(c.MissingDetail), "account(s) missing type or detail"},
		{ruleOrphans, len(c.OrphanSubAccounts), "sub-account(s) without a parent"},
	} {
		if is, ok := check.rule.apply(check.n, fmt.Sprintf("%d %s", check.n, check.detail)); ok {
			issues = append(issues, is)
		}
	}
	return tally(models.PillarChartIntegrity, models.DataOK, maxScore, issues)
}

func (e *Engine) categorization(c models.Categorization) models.PillarScore {
	if !c.Present {
		return noData(models.PillarCategorization, models.DataNone, IssueCategorizationMissing, "transaction data was not available")
	}
	var issues []models.Issue
	count := c.TotalCount()
	if is, ok := ruleUncategorized.apply(count, fmt.Sprintf("%d uncategorized transaction(s)", count)); ok {
		issues = append(issues, is)
	}
	total := c.TotalAmount()
	for _, tier := range uncategorizedTiers {
		hit := total.GreaterThan(tier.min) || (tier.inclusive && total.Equal(tier.min))
		if hit {
			issues = append(issues, models.Issue{
				Code:    IssueUncategorizedAmount,
				Amount:  total.StringFixed(2),
				Penalty: tier.penalty,
				Detail:  fmt.Sprintf("%s in uncategorized accounts", total.StringFixed(2)),
			})
			break
		}
	}
	return tally(models.PillarCategorization, models.DataOK, maxScore, issues)
}

func (e *Engine) controlAccounts(c models.ControlAccounts) models.PillarScore {
	if !c.Present {
		return noData(models.PillarControlAccount, models.DataNone, IssueControlMissing, "chart of accounts and trial balance were not available")
	}
	var issues []models.Issue
	status := models.DataOK
	// An unresolved balance is charged the penalty it could have earned,
	// so a missing report never scores better than the full data would.
	check := func(cb models.ControlBalance, code string, penalty int, bad bool, detail string) {
		switch {
		case cb.Unresolved:
			status = models.DataPartial
			issues = append(issues, models.Issue{Code: IssueControlUnresolved, Penalty: penalty,
				Detail: cb.Name + " balance could not be determined"})
		case bad:
			issues = append(issues, models.Issue{Code: code, Amount: cb.Balance.StringFixed(2), Penalty: penalty, Detail: detail})
		}
	}
	check(c.OpeningBalanceEquity, IssueOpeningBalanceEquity, penaltyOBE,
		!c.OpeningBalanceEquity.Balance.IsZero(), "Opening Balance Equity is not zero")
	check(c.UndepositedFunds, IssueUndepositedFunds, penaltyUF,
		!c.UndepositedFunds.Balance.IsZero(), "Undeposited Funds holds a balance")
	check(c.AccountsReceivable, IssueNegativeAR, penaltyNegativeAR,
		c.AccountsReceivable.Balance.IsNegative(), "Accounts Receivable is negative")
	check(c.AccountsPayable, IssueNegativeAP, penaltyNegativeAP,
		c.AccountsPayable.Balance.IsNegative(), "Accounts Payable is negative")

	if c.JournalEntriesUnknown {
		status = models.DataPartial
		issues = append(issues, models.Issue{Code: IssueJournalUnknown, Penalty: ruleJournalToARAP.cap,
			Detail: "journal entries could not be checked for direct A/R or A/P postings"})
	} else {
		n := c.JournalEntriesToARAP
		if is, ok := ruleJournalToARAP.apply(n, fmt.Sprintf("%d journal entr(ies) posted directly to A/R or A/P", n)); ok {
			issues = append(issues, is)
		}
	}
	return tally(models.PillarControlAccount, status, maxScore, issues)
}

func (e *Engine) aging(b *models.PillarDataBundle) models.PillarScore {
	ar, arIssues := e.agingSide(b.ARAging, b.ControlAccounts.AccountsReceivable, b.ControlAccounts.Present)
	ap, apIssues := e.agingSide(b.APAging, b.ControlAccounts.AccountsPayable, b.ControlAccounts.Present)

	issues := append(arIssues, apIssues...)
	if issues == nil {
		issues = []models.Issue{}
	}
	status := models.DataOK
	switch {
	case !b.ARAging.Present && !b.APAging.Present:
		status = models.DataNone
	case !b.ARAging.Present || !b.APAging.Present:
		status = models.DataPartial
	default:
		for _, is := range issues {
			if is.Code == IssueAgingUnverified {
				status = models.DataPartial
			}
		}
	}
	return models.PillarScore{Pillar: models.PillarAging, Score: ar + ap, Status: status, Issues: issues}
}

// agingSide scores one ledger side out of agingSideScore.
func (e *Engine) agingSide(a models.AgingBuckets, control models.ControlBalance, controlPresent bool) (int, []models.Issue) {
	side := string(a.Side)
	if !a.Present {
		return 0, []models.Issue{{Code: IssueAgingMissing, Penalty: agingSideScore, Detail: side + " aging report was not available"}}
	}

	var issues []models.Issue
	sum := a.Sum()
	switch {
	case controlPresent && control.Unresolved:
		issues = append(issues, models.Issue{
			Code:    IssueAgingUnverified,
			Penalty: penaltyAgingTotal,
			Detail:  fmt.Sprintf("%s aging could not be compared with %s", side, control.Name),
		})
	case controlPresent && control.Found() && sum.Sub(control.Balance).Abs().GreaterThan(e.cfg.AgingTolerance):
		issues = append(issues, models.Issue{
			Code:    IssueAgingMismatch,
			Amount:  sum.Sub(control.Balance).StringFixed(2),
			Penalty: penaltyAgingTotal,
			Detail:  fmt.Sprintf("%s aging totals %s but %s is %s", side, sum.StringFixed(2), control.Name, control.Balance.StringFixed(2)),
		})
	}
	if sum.IsPositive() {
		// share > pct  <=>  bucket*100 > sum*pct
		hundred := decimal.NewFromInt(100)
		over := func(bucket decimal.Decimal, pct int64) bool {
			return bucket.Mul(hundred).GreaterThan(sum.Mul(decimal.NewFromInt(pct)))
		}
		switch {
		case over(a.Days90Plus, 25):
			issues = append(issues, models.Issue{Code: IssueAging90Plus, Amount: a.Days90Plus.StringFixed(2), Penalty: penaltyAging90High,
				Detail: side + " balance over 90 days exceeds 25%"})
		case over(a.Days90Plus, 10):
			issues = append(issues, models.Issue{Code: IssueAging90Plus, Amount: a.Days90Plus.StringFixed(2), Penalty: penaltyAging90Low,
				Detail: side + " balance over 90 days exceeds 10%"})
		}
		if over(a.Days61To90, 20) {
			issues = append(issues, models.Issue{Code: IssueAging61To90, Amount: a.Days61To90.StringFixed(2), Penalty: penaltyAging61,
				Detail: side + " balance 61 to 90 days exceeds 20%"})
		}
	}

	score := agingSideScore
	for _, is := range issues {
		score -= is.Penalty
	}
	if score < 0 {
		score = 0
	}
	return score, issues
}
