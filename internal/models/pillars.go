package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pillar names one of the five scored categories.
type Pillar string

const (
	PillarReconciliation Pillar = "reconciliation"
	PillarChartIntegrity Pillar = "chart_integrity"
	PillarCategorization Pillar = "categorization"
	PillarControlAccount Pillar = "control_accounts"
	PillarAging          Pillar = "aging"
)

// AllPillars is the fixed scoring order.
var AllPillars = []Pillar{
	PillarReconciliation,
	PillarChartIntegrity,
	PillarCategorization,
	PillarControlAccount,
	PillarAging,
}

// DataStatus separates "nothing came back" from "something came back but
// could not be read". DataPartial marks a pillar scored with some of its
// sources missing.
type DataStatus string

const (
	DataOK          DataStatus = "ok"
	DataNone        DataStatus = "no_data"
	DataUnparseable DataStatus = "unparseable"
	DataPartial     DataStatus = "partial"
)

// ReconciliationEntry summarizes one bank account.
type ReconciliationEntry struct {
	AccountID         string          `json:"account_id,omitempty"`
	AccountName       string          `json:"account_name"`
	BookBalance       decimal.Decimal `json:"book_balance"`
	ClearedAmount     decimal.Decimal `json:"cleared_amount"`
	UnclearedAmount   decimal.Decimal `json:"uncleared_amount"`
	OutstandingOver30 decimal.Decimal `json:"outstanding_over_30"`
	Variance          decimal.Decimal `json:"variance"`
	UnclearedCount    int             `json:"uncleared_count"`
	StaleCount        int             `json:"stale_count"`
}

// Reconciliation is the bank reconciliation pillar input.
type Reconciliation struct {
	Entries            []ReconciliationEntry `json:"entries"`
	HasTransactionData bool                  `json:"has_transaction_data"`
	TotalRowsFound     int                   `json:"total_rows_found"`
	Status             DataStatus            `json:"status"`
}

// AccountRef identifies an account in issue lists.
type AccountRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ChartIntegrity is the chart-of-accounts pillar input.
type ChartIntegrity struct {
	Present           bool         `json:"present"`
	TotalAccounts     int          `json:"total_accounts"`
	DuplicateNames    []string     `json:"duplicate_names"`
	DuplicateNumbers  []string     `json:"duplicate_numbers"`
	MissingDetail     []AccountRef `json:"missing_detail"`
	OrphanSubAccounts []AccountRef `json:"orphan_sub_accounts"`
}

// Well-known QuickBooks default accounts that hold uncategorized activity.
const (
	BucketUncategorizedExpense = "Uncategorized Expense"
	BucketUncategorizedIncome  = "Uncategorized Income"
	BucketUncategorizedAsset   = "Uncategorized Asset"
	BucketAskMyAccountant      = "Ask My Accountant"
)

// UncategorizedBucketNames is the fixed bucket order.
var UncategorizedBucketNames = []string{
	BucketUncategorizedExpense,
	BucketUncategorizedIncome,
	BucketUncategorizedAsset,
	BucketAskMyAccountant,
}

// CategoryBucket totals one uncategorized account.
type CategoryBucket struct {
	Name  string          `json:"name"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

// Categorization is the categorization pillar input.
type Categorization struct {
	Present bool             `json:"present"`
	Buckets []CategoryBucket `json:"buckets"`
}

// NewCategorization returns zeroed buckets in the fixed order.
func NewCategorization(present bool) Categorization {
	c := Categorization{Present: present, Buckets: make([]CategoryBucket, len(UncategorizedBucketNames))}
	for i, name := range UncategorizedBucketNames {
		c.Buckets[i] = CategoryBucket{Name: name, Total: decimal.Zero}
	}
	return c
}

// Bucket returns a pointer to the named bucket or nil.
func (c *Categorization) Bucket(name string) *CategoryBucket {
	for i := range c.Buckets {
		if c.Buckets[i].Name == name {
			return &c.Buckets[i]
		}
	}
	return nil
}

// TotalCount sums item counts across buckets.
func (c Categorization) TotalCount() int {
	n := 0
	for _, b := range c.Buckets {
		n += b.Count
	}
	return n
}

// TotalAmount sums bucket totals.
func (c Categorization) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, b := range c.Buckets {
		total = total.Add(b.Total)
	}
	return total
}

// ControlBalance is one named control account. An empty AccountID means
// the account does not exist in the company file. Unresolved means a
// report that could carry the balance was unavailable, so neither the
// balance nor the absence is known.
type ControlBalance struct {
	AccountID  string          `json:"account_id"`
	Name       string          `json:"name"`
	Balance    decimal.Decimal `json:"balance"`
	Unresolved bool            `json:"unresolved,omitempty"`
}

// Found reports whether the account was located.
func (b ControlBalance) Found() bool {
	return b.AccountID != ""
}

// ControlAccounts is the control-account pillar input.
type ControlAccounts struct {
	Present              bool           `json:"present"`
	OpeningBalanceEquity ControlBalance `json:"opening_balance_equity"`
	UndepositedFunds     ControlBalance `json:"undeposited_funds"`
	AccountsReceivable   ControlBalance `json:"accounts_receivable"`
	AccountsPayable      ControlBalance `json:"accounts_payable"`
	JournalEntriesToARAP int            `json:"journal_entries_to_ar_ap"`

	// JournalEntriesUnknown is set when the journal report was missing or
	// unreadable; JournalEntriesToARAP is then 0.
	JournalEntriesUnknown bool `json:"journal_entries_unknown,omitempty"`
}

// AgingSide names the ledger side of an aging report.
type AgingSide string

const (
	SideReceivable AgingSide = "AR"
	SidePayable    AgingSide = "AP"
)

// AgingBuckets holds one side's open balance by days past due.
type AgingBuckets struct {
	Side          AgingSide       `json:"side"`
	Present       bool            `json:"present"`
	AsOf          time.Time       `json:"as_of"`
	Current       decimal.Decimal `json:"current"`
	Days1To30     decimal.Decimal `json:"days_1_30"`
	Days31To60    decimal.Decimal `json:"days_31_60"`
	Days61To90    decimal.Decimal `json:"days_61_90"`
	Days90Plus    decimal.Decimal `json:"days_90_plus"`
	ReportedTotal decimal.Decimal `json:"reported_total"`
	LineItems     int             `json:"line_items"`
}

// NewAgingBuckets returns a zeroed side.
func NewAgingBuckets(side AgingSide, present bool) AgingBuckets {
	return AgingBuckets{
		Side:          side,
		Present:       present,
		Current:       decimal.Zero,
		Days1To30:     decimal.Zero,
		Days31To60:    decimal.Zero,
		Days61To90:    decimal.Zero,
		Days90Plus:    decimal.Zero,
		ReportedTotal: decimal.Zero,
	}
}

// Add assigns amount to exactly one bucket. Boundaries are closed-open:
// current is < 1 day, then [1,31), [31,61), [61,91), and 91 or more.
func (a *AgingBuckets) Add(daysPastDue int, amount decimal.Decimal) {
	switch {
	case daysPastDue < 1:
		a.Current = a.Current.Add(amount)
	case daysPastDue < 31:
		a.Days1To30 = a.Days1To30.Add(amount)
	case daysPastDue < 61:
		a.Days31To60 = a.Days31To60.Add(amount)
	case daysPastDue < 91:
		a.Days61To90 = a.Days61To90.Add(amount)
	default:
		a.Days90Plus = a.Days90Plus.Add(amount)
	}
	a.LineItems++
}

// Sum totals all buckets.
func (a AgingBuckets) Sum() decimal.Decimal {
	return a.Current.Add(a.Days1To30).Add(a.Days31To60).Add(a.Days61To90).Add(a.Days90Plus)
}

// Reconciles reports whether the buckets sum to ReportedTotal within tol.
func (a AgingBuckets) Reconciles(tol decimal.Decimal) bool {
	return a.Sum().Sub(a.ReportedTotal).Abs().LessThanOrEqual(tol)
}

// DataWarning is a data-quality note carried into the result metadata.
type DataWarning struct {
	Code    string `json:"code"`
	Report  string `json:"report,omitempty"`
	Message string `json:"message"`
}

// Warning codes.
const (
	WarnReportFailed     = "report_failed"
	WarnReportMalformed  = "report_malformed"
	WarnColumnMissing    = "column_missing"
	WarnAgingSubstituted = "aging_substituted"
)

// PillarDataBundle is the normalized input to the scoring engine.
type PillarDataBundle struct {
	AsOf            time.Time       `json:"as_of"`
	Window          DateWindow      `json:"window"`
	Reconciliation  Reconciliation  `json:"reconciliation"`
	ChartIntegrity  ChartIntegrity  `json:"chart_integrity"`
	Categorization  Categorization  `json:"categorization"`
	ControlAccounts ControlAccounts `json:"control_accounts"`
	ARAging         AgingBuckets    `json:"ar_aging"`
	APAging         AgingBuckets    `json:"ap_aging"`
	Warnings        []DataWarning   `json:"warnings,omitempty"`
}

// EmptyPillarDataBundle returns a bundle where every pillar reports no data.
func EmptyPillarDataBundle() *PillarDataBundle {
	return &PillarDataBundle{
		Reconciliation:  Reconciliation{Status: DataNone},
		Categorization:  NewCategorization(false),
		ControlAccounts: ControlAccounts{},
		ARAging:         NewAgingBuckets(SideReceivable, false),
		APAging:         NewAgingBuckets(SidePayable, false),
	}
}
