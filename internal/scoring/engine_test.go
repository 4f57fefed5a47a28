package scoring

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func side(s models.AgingSide, current, d1, d31, d61, d90 string) models.AgingBuckets {
	a := models.NewAgingBuckets(s, true)
	a.Current, a.Days1To30, a.Days31To60, a.Days61To90, a.Days90Plus = d(current), d(d1), d(d31), d(d61), d(d90)
	a.ReportedTotal = a.Sum()
	return a
}

// healthyBundle is a fresh connection with full, clean data.
func healthyBundle() *models.PillarDataBundle {
	b := models.EmptyPillarDataBundle()
	b.Reconciliation = models.Reconciliation{Status: models.DataOK, HasTransactionData: true, TotalRowsFound: 120}
	for i := 0; i < 4; i++ {
		bal := decimal.NewFromInt(int64(1000 * (i + 1)))
		b.Reconciliation.Entries = append(b.Reconciliation.Entries, models.ReconciliationEntry{
			AccountName: fmt.Sprintf("Bank %d", i), BookBalance: bal, ClearedAmount: bal,
			UnclearedAmount: decimal.Zero, OutstandingOver30: decimal.Zero, Variance: decimal.Zero,
		})
	}
	b.ChartIntegrity = models.ChartIntegrity{Present: true, TotalAccounts: 90}
	b.Categorization = models.NewCategorization(true)
	b.ControlAccounts = models.ControlAccounts{
		Present:              true,
		OpeningBalanceEquity: models.ControlBalance{AccountID: "6", Name: "Opening Balance Equity", Balance: decimal.Zero},
		UndepositedFunds:     models.ControlBalance{AccountID: "4", Name: "Undeposited Funds", Balance: decimal.Zero},
		AccountsReceivable:   models.ControlBalance{AccountID: "84", Name: "Accounts Receivable (A/R)", Balance: d("5281.52")},
		AccountsPayable:      models.ControlBalance{AccountID: "33", Name: "Accounts Payable (A/P)", Balance: d("1602.67")},
	}
	b.ARAging = side(models.SideReceivable, "4000.00", "1000.00", "281.52", "0", "0")
	b.APAging = side(models.SidePayable, "1602.67", "0", "0", "0", "0")
	return b
}

func TestScoreHealthyBooks(t *testing.T) {
	card, err := Default().Score(healthyBundle())
	require.NoError(t, err)

	assert.Equal(t, ScoringModelID, card.Model)
	require.Len(t, card.PillarScores, 5)
	for i, ps := range card.PillarScores {
		assert.Equal(t, models.AllPillars[i], ps.Pillar)
		assert.Equal(t, 100, ps.Score, ps.Pillar)
		assert.Empty(t, ps.Issues, ps.Pillar)
	}
	assert.Equal(t, 100, card.OverallScore)
	assert.Equal(t, models.ReadyForMonthlyOperations, card.Readiness)
}

func TestScoreDegradedBooks(t *testing.T) {
	b := healthyBundle()
	for i := 0; i < 8; i++ {
		b.ChartIntegrity.DuplicateNames = append(b.ChartIntegrity.DuplicateNames, fmt.Sprintf("Account %d", i))
	}
	exp := b.Categorization.Bucket(models.BucketUncategorizedExpense)
	exp.Count, exp.Total = 1, d("1234.56")

	card, err := Default().Score(b)
	require.NoError(t, err)

	byPillar := map[models.Pillar]models.PillarScore{}
	for _, ps := range card.PillarScores {
		byPillar[ps.Pillar] = ps
	}
	assert.Equal(t, 60, byPillar[models.PillarChartIntegrity].Score)
	assert.Equal(t, 79, byPillar[models.PillarCategorization].Score)
	assert.Equal(t, 88, card.OverallScore)

	amount := byPillar[models.PillarCategorization].Issues[1]
	assert.Equal(t, IssueUncategorizedAmount, amount.Code)
	assert.Equal(t, "1234.56", amount.Amount)
	assert.Equal(t, 20, amount.Penalty)

	// Crossing a threshold drops a tier.
	more := healthyBundle()
	more.ChartIntegrity = b.ChartIntegrity
	more.Categorization = b.Categorization
	more.ControlAccounts.OpeningBalanceEquity.Balance = d("100")
	more.ControlAccounts.UndepositedFunds.Balance = d("10")
	card, err = Default().Score(more)
	require.NoError(t, err)
	assert.Equal(t, 80, card.OverallScore)
	assert.Equal(t, models.MinorFixesNeeded, card.Readiness)
}

func TestScoreIsDeterministic(t *testing.T) {
	b := healthyBundle()
	b.ChartIntegrity.MissingDetail = []models.AccountRef{{ID: "1", Name: "x"}}
	e := Default()
	first, err := e.Score(b)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := e.Score(b)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMissingDataNeverScoresHigher(t *testing.T) {
	full, err := Default().Score(healthyBundle())
	require.NoError(t, err)

	b := healthyBundle()
	b.APAging = models.NewAgingBuckets(models.SidePayable, false)
	partial, err := Default().Score(b)
	require.NoError(t, err)

	assert.LessOrEqual(t, partial.OverallScore, full.OverallScore)
	assert.Equal(t, 50, partial.PillarScores[4].Score)
	assert.Equal(t, IssueAgingMissing, partial.PillarScores[4].Issues[0].Code)

	empty, err := Default().Score(models.EmptyPillarDataBundle())
	require.NoError(t, err)
	assert.Equal(t, 0, empty.OverallScore)
	assert.Equal(t, models.AdditionalCleanupRequired, empty.Readiness)
	for _, ps := range empty.PillarScores {
		assert.Equal(t, 0, ps.Score, ps.Pillar)
		assert.Equal(t, models.DataNone, ps.Status, ps.Pillar)
	}
}

func TestReconciliationRules(t *testing.T) {
	b := healthyBundle()
	for i := range b.Reconciliation.Entries {
		b.Reconciliation.Entries[i].Variance = d("0.01") // within tolerance
	}
	b.Reconciliation.Entries[0].Variance = d("-12.00")
	b.Reconciliation.Entries[1].StaleCount = 3

	card, err := Default().Score(b)
	require.NoError(t, err)
	assert.Equal(t, 80, card.PillarScores[0].Score)

	many := healthyBundle()
	for i := range many.Reconciliation.Entries {
		many.Reconciliation.Entries[i].Variance = d("5")
		many.Reconciliation.Entries[i].StaleCount = 1
	}
	many.Reconciliation.Entries = append(many.Reconciliation.Entries, many.Reconciliation.Entries...)
	card, err = Default().Score(many)
	require.NoError(t, err)
	assert.Equal(t, 20, card.PillarScores[0].Score, "each rule capped at 40")

	unparseable := healthyBundle()
	unparseable.Reconciliation = models.Reconciliation{Status: models.DataUnparseable, TotalRowsFound: 12}
	card, err = Default().Score(unparseable)
	require.NoError(t, err)
	assert.Equal(t, 0, card.PillarScores[0].Score)
	assert.Equal(t, models.DataUnparseable, card.PillarScores[0].Status)
	assert.Equal(t, IssueReconciliationUnparseable, card.PillarScores[0].Issues[0].Code)
}

func TestChartIntegrityCaps(t *testing.T) {
	b := healthyBundle()
	refs := make([]models.AccountRef, 20)
	names := make([]string, 20)
	for i := range refs {
		refs[i] = models.AccountRef{Name: fmt.Sprint(i)}
		names[i] = fmt.Sprint(i)
	}
	b.ChartIntegrity.DuplicateNames = names
	b.ChartIntegrity.DuplicateNumbers = names
	b.ChartIntegrity.MissingDetail = refs
	b.ChartIntegrity.OrphanSubAccounts = refs

	card, err := Default().Score(b)
	require.NoError(t, err)
	ps := card.PillarScores[1]
	assert.Equal(t, 0, ps.Score, "110 points of penalties floor at zero")
	penalties := []int{}
	for _, is := range ps.Issues {
		penalties = append(penalties, is.Penalty)
	}
	assert.Equal(t, []int{40, 30, 20, 20}, penalties)
}

func TestUncategorizedAmountTiers(t *testing.T) {
	cases := []struct {
		total string
		score int
	}{
		{"0", 100},
		{"0.01", 89},
		{"999.99", 89},
		{"1000", 79},
		{"9999.99", 79},
		{"10000", 64},
	}
	for _, tc := range cases {
		t.Run(tc.total, func(t *testing.T) {
			b := healthyBundle()
			if tc.total != "0" {
				bucket := b.Categorization.Bucket(models.BucketAskMyAccountant)
				bucket.Count, bucket.Total = 1, d(tc.total)
			}
			card, err := Default().Score(b)
			require.NoError(t, err)
			assert.Equal(t, tc.score, card.PillarScores[2].Score)
		})
	}
}

func TestControlAccountRules(t *testing.T) {
	b := healthyBundle()
	b.ControlAccounts.OpeningBalanceEquity.Balance = d("-500")
	b.ControlAccounts.UndepositedFunds.Balance = d("75")
	b.ControlAccounts.AccountsReceivable.Balance = d("-1")
	b.ControlAccounts.JournalEntriesToARAP = 7
	b.ARAging = models.NewAgingBuckets(models.SideReceivable, false)

	card, err := Default().Score(b)
	require.NoError(t, err)
	ps := card.PillarScores[3]
	// 25 + 15 + 10 + min(35, 30)
	assert.Equal(t, 20, ps.Score)
	codes := []string{}
	for _, is := range ps.Issues {
		codes = append(codes, is.Code)
	}
	assert.Equal(t, []string{IssueOpeningBalanceEquity, IssueUndepositedFunds, IssueNegativeAR, IssueJournalToARAP}, codes)
}

func TestUnresolvedControlsChargeWorstCase(t *testing.T) {
	b := healthyBundle()
	b.ControlAccounts.UndepositedFunds = models.ControlBalance{Name: "Undeposited Funds", Balance: decimal.Zero, Unresolved: true}
	b.ControlAccounts.AccountsPayable = models.ControlBalance{Name: "Accounts Payable (A/P)", Balance: decimal.Zero, Unresolved: true}
	b.ControlAccounts.JournalEntriesUnknown = true

	card, err := Default().Score(b)
	require.NoError(t, err)

	control := card.PillarScores[3]
	// 15 (UF) + 10 (AP) + 30 (journal cap)
	assert.Equal(t, 45, control.Score)
	assert.Equal(t, models.DataPartial, control.Status)
	codes := []string{}
	for _, is := range control.Issues {
		codes = append(codes, is.Code)
	}
	assert.Equal(t, []string{IssueControlUnresolved, IssueControlUnresolved, IssueJournalUnknown}, codes)

	aging := card.PillarScores[4]
	assert.Equal(t, 80, aging.Score, "AP aging cannot be checked against an unknown balance")
	assert.Equal(t, models.DataPartial, aging.Status)
	assert.Equal(t, IssueAgingUnverified, aging.Issues[0].Code)

	full, err := Default().Score(healthyBundle())
	require.NoError(t, err)
	assert.Less(t, card.OverallScore, full.OverallScore)
}

func TestAgingRules(t *testing.T) {
	b := healthyBundle()
	// 90+ = 30% and 61-90 = 25% of 100; control says 50.
	b.ARAging = side(models.SideReceivable, "45", "0", "0", "25", "30")
	b.ControlAccounts.AccountsReceivable.Balance = d("50")
	// 90+ = 12% of 100.
	b.APAging = side(models.SidePayable, "88", "0", "0", "0", "12")
	b.ControlAccounts.AccountsPayable.Balance = d("100.04")

	card, err := Default().Score(b)
	require.NoError(t, err)
	ps := card.PillarScores[4]
	// AR: 50 - 20 - 25 - 10 = -5 -> 0; AP: 50 - 15 = 35 (mismatch within tolerance).
	assert.Equal(t, 35, ps.Score)
	assert.Equal(t, models.DataOK, ps.Status)

	codes := []string{}
	for _, is := range ps.Issues {
		codes = append(codes, is.Code)
	}
	assert.Equal(t, []string{IssueAgingMismatch, IssueAging90Plus, IssueAging61To90, IssueAging90Plus}, codes)
}

func TestAgingInvariantViolation(t *testing.T) {
	b := healthyBundle()
	b.ARAging.ReportedTotal = b.ARAging.Sum().Add(d("0.06"))

	_, err := Default().Score(b)
	var violation *errors.ScoringInvariantViolation
	require.True(t, stderrors.As(err, &violation))
	assert.Equal(t, "aging", violation.Pillar)

	// Rounding within tolerance is accepted.
	b.ARAging.ReportedTotal = b.ARAging.Sum().Add(d("0.05"))
	_, err = Default().Score(b)
	assert.NoError(t, err)

	// The synthetic bundle: 100 + 50 + 25 = 175.
	ok := side(models.SideReceivable, "100", "50", "0", "0", "25")
	assert.True(t, ok.ReportedTotal.Equal(d("175")))
}

func TestReadinessThresholds(t *testing.T) {
	e := Default()
	assert.Equal(t, models.ReadyForMonthlyOperations, e.Readiness(100))
	assert.Equal(t, models.ReadyForMonthlyOperations, e.Readiness(85))
	assert.Equal(t, models.MinorFixesNeeded, e.Readiness(84))
	assert.Equal(t, models.MinorFixesNeeded, e.Readiness(70))
	assert.Equal(t, models.AdditionalCleanupRequired, e.Readiness(69))
	assert.Greater(t, models.ReadyForMonthlyOperations.Rank(), models.MinorFixesNeeded.Rank())
}

func TestConfigOverrides(t *testing.T) {
	cfg, err := FromAssessmentConfig(config.AssessmentConfig{
		VarianceTolerance: "1.00",
		Scoring: config.ScoringConfig{
			Weights: map[string]int{
				"reconciliation": 4000, "chart_integrity": 1500, "categorization": 1500,
				"control_accounts": 1500, "aging": 1500,
			},
			ReadyThreshold:      90,
			MinorFixesThreshold: 75,
		},
	})
	require.NoError(t, err)
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	b := healthyBundle()
	b.Reconciliation = models.Reconciliation{Status: models.DataNone}
	card, err := e.Score(b)
	require.NoError(t, err)
	assert.Equal(t, 60, card.OverallScore)
	assert.Equal(t, models.AdditionalCleanupRequired, card.Readiness)
	assert.Equal(t, models.MinorFixesNeeded, e.Readiness(89))

	_, err = FromAssessmentConfig(config.AssessmentConfig{Scoring: config.ScoringConfig{
		Weights: map[string]int{"reconciliation": 10000},
	}})
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Weights[models.PillarAging] = 2001
	_, err = NewEngine(bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.MinorFixesThreshold = 90
	_, err = NewEngine(bad)
	assert.Error(t, err)
}
