package normalizer

import (
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/qboreport"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// staleAfterDays is the age past which an uncleared item counts as
// outstanding.
const staleAfterDays = 30

var (
	clearedColumns = []string{"is_cleared", "Clr", "Cleared", "Cleared Status", "clr_status"}
	clearedValues  = []string{"C", "R", "Cleared", "Reconciled", "Y", "true"}

	accountColumns = []string{"account_name", "Account", "account"}
	splitColumns   = []string{"other_account", "Split", "split_acc"}
	amountColumns  = []string{"subt_nat_amount", "Amount", "nat_amount", "amount"}
	dateColumns    = []string{"tx_date", "Date"}
)

// txnRow is one transaction list line reduced to the fields the pillars
// read.
type txnRow struct {
	Date     time.Time
	HasDate  bool
	Account  qboreport.ColData
	Split    qboreport.ColData
	Amount   decimal.Decimal
	Cleared  string
	InWindow bool
}

// transactions decodes the transaction list once for both consumers.
type transactions struct {
	Present     bool
	Rows        []txnRow
	TotalRows   int
	HasCleared  bool
	HasAccounts bool
}

func (r *run) transactions() *transactions {
	if r.txns != nil {
		return r.txns
	}
	t := &transactions{}
	r.txns = t
	rep, ok := r.report(models.ReportTransactionList)
	if !ok {
		return t
	}
	t.Present = true

	clr := rep.Column(clearedColumns...)
	acct := rep.Column(accountColumns...)
	split := rep.Column(splitColumns...)
	amount := rep.Column(amountColumns...)
	date := rep.Column(dateColumns...)
	t.HasCleared = clr.Found()
	t.HasAccounts = acct.Found() || split.Found()

	window := r.raw.Window
	rep.EachDataRow(func(cells []qboreport.ColData, _ []string) {
		if first := strings.TrimSpace(cellValue(cells, 0)); strings.HasPrefix(strings.ToUpper(first), "TOTAL") {
			return
		}
		t.TotalRows++
		row := txnRow{Cleared: clr.Value(cells), InWindow: true}
		row.Account, _ = acct.Cell(cells)
		row.Split, _ = split.Cell(cells)
		row.Amount, _ = qboreport.ParseAmount(amount.Value(cells))
		if d, ok := qboreport.ParseDate(date.Value(cells)); ok {
			row.Date, row.HasDate = d, true
			row.InWindow = window.IsZero() || window.Contains(d)
		}
		t.Rows = append(t.Rows, row)
	})

	if !amount.Found() {
		r.warn(models.WarnColumnMissing, models.ReportTransactionList, "amount column not found")
	}
	if !t.HasAccounts {
		r.warn(models.WarnColumnMissing, models.ReportTransactionList, "account column not found")
	}
	return t
}

func cellValue(cells []qboreport.ColData, i int) string {
	if i < len(cells) {
		return cells[i].Value
	}
	return ""
}

func (r *run) isCleared(v string) bool {
	k := r.label(v)
	if k == "" {
		return false
	}
	return lo.ContainsBy(clearedValues, func(c string) bool { return r.label(c) == k })
}

func (r *run) reconciliation(chart *chartOfAccounts, tb *trialBalance) models.Reconciliation {
	out := models.Reconciliation{Entries: []models.ReconciliationEntry{}, Status: models.DataNone}
	txns := r.transactions()
	if !txns.Present {
		if r.malformed(models.ReportTransactionList) {
			out.Status = models.DataUnparseable
		}
		return out
	}
	out.TotalRowsFound = txns.TotalRows
	if txns.TotalRows == 0 {
		return out
	}
	if !txns.HasCleared {
		out.Status = models.DataUnparseable
		r.warn(models.WarnColumnMissing, models.ReportTransactionList, "cleared status column not found")
		return out
	}
	if !chart.Present {
		// Without the chart there is no way to tell bank accounts apart.
		r.warn(models.WarnReportFailed, models.ReportChartOfAccounts, "bank accounts unknown without chart of accounts")
		return out
	}
	out.HasTransactionData = true
	out.Status = models.DataOK

	index := make(map[*chartAccount]int)
	for i := range chart.Accounts {
		b := &chart.Accounts[i]
		if r.label(b.Type) != r.label("Bank") {
			continue
		}
		entry := models.ReconciliationEntry{
			AccountID:         b.ID,
			AccountName:       displayName(*b),
			BookBalance:       decimal.Zero,
			UnclearedAmount:   decimal.Zero,
			OutstandingOver30: decimal.Zero,
		}
		if b.HasBalance {
			entry.BookBalance = b.Balance
		} else if row, ok := tb.find(displayName(*b), r.label); ok {
			entry.BookBalance = row.Amount
		}
		index[b] = len(out.Entries)
		out.Entries = append(out.Entries, entry)
	}

	cutoff := r.raw.Window.LastDay()
	for _, row := range txns.Rows {
		if !row.InWindow || r.isCleared(row.Cleared) {
			continue
		}
		bank := r.bankFor(chart, index, row)
		if bank < 0 {
			continue
		}
		e := &out.Entries[bank]
		e.UnclearedAmount = e.UnclearedAmount.Add(row.Amount)
		e.UnclearedCount++
		if row.HasDate && models.DaysBetween(row.Date, cutoff) > staleAfterDays {
			e.OutstandingOver30 = e.OutstandingOver30.Add(row.Amount)
			e.StaleCount++
		}
	}

	for i := range out.Entries {
		e := &out.Entries[i]
		e.ClearedAmount = e.BookBalance.Sub(e.UnclearedAmount)
		e.Variance = e.BookBalance.Sub(e.ClearedAmount)
	}
	return out
}

// bankFor returns the entry index of the bank account a row posts to,
// checking the split column when the primary account is not a bank.
func (r *run) bankFor(chart *chartOfAccounts, index map[*chartAccount]int, row txnRow) int {
	for _, cell := range []qboreport.ColData{row.Account, row.Split} {
		a := chart.find(strings.TrimSpace(cell.ID), strings.TrimSpace(cell.Value), r.label)
		if a == nil {
			continue
		}
		if i, ok := index[a]; ok {
			return i
		}
	}
	return -1
}

func (r *run) categorization() models.Categorization {
	txns := r.transactions()
	out := models.NewCategorization(txns.Present)
	if !txns.Present {
		return out
	}

	buckets := lo.SliceToMap(models.UncategorizedBucketNames, func(n string) (string, string) {
		return r.label(n), n
	})
	for _, row := range txns.Rows {
		if !row.InWindow {
			continue
		}
		for _, cell := range []qboreport.ColData{row.Account, row.Split} {
			name, ok := buckets[r.label(cell.Value)]
			if !ok {
				continue
			}
			b := out.Bucket(name)
			b.Count++
			b.Total = b.Total.Add(row.Amount.Abs())
			break
		}
	}
	return out
}
