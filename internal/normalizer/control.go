package normalizer

import (
	"strconv"
	"strings"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/qboreport"
	"github.com/shopspring/decimal"
)

// controlName lists the accepted spellings of one control account and
// whether its natural balance is a credit.
type controlName struct {
	names  []string
	credit bool
}

var (
	openingBalanceEquity = controlName{names: []string{"Opening Balance Equity"}, credit: true}
	undepositedFunds     = controlName{names: []string{"Undeposited Funds"}}
	accountsReceivable   = controlName{names: []string{"Accounts Receivable (A/R)", "Accounts Receivable"}}
	accountsPayable      = controlName{names: []string{"Accounts Payable (A/P)", "Accounts Payable"}, credit: true}
)

func (r *run) controlAccounts(chart *chartOfAccounts, tb *trialBalance) models.ControlAccounts {
	out := models.ControlAccounts{Present: chart.Present || tb.Present}
	out.OpeningBalanceEquity = r.control(chart, tb, openingBalanceEquity)
	out.UndepositedFunds = r.control(chart, tb, undepositedFunds)
	out.AccountsReceivable = r.control(chart, tb, accountsReceivable)
	out.AccountsPayable = r.control(chart, tb, accountsPayable)
	if out.Present {
		n, ok := r.journalEntriesToARAP(out.AccountsReceivable, out.AccountsPayable)
		out.JournalEntriesToARAP, out.JournalEntriesUnknown = n, !ok
	}
	return out
}

// control locates one named account. The chart wins; the trial balance
// fills in when the chart is missing the account or its balance. An
// account is absent (zero balance, empty id) only when both sources were
// read; otherwise a balance neither source supplied is unresolved.
func (r *run) control(chart *chartOfAccounts, tb *trialBalance, want controlName) models.ControlBalance {
	out := models.ControlBalance{Name: want.names[0], Balance: decimal.Zero}
	for _, n := range want.names {
		if a := chart.find("", n, r.label); a != nil {
			out.AccountID, out.Name = a.ID, displayName(*a)
			if out.AccountID == "" {
				out.AccountID = out.Name
			}
			if a.HasBalance {
				out.Balance = a.Balance
				return out
			}
			break
		}
	}
	for _, n := range want.names {
		row, ok := tb.find(n, r.label)
		if !ok {
			continue
		}
		if out.AccountID == "" {
			out.AccountID, out.Name = row.ID, row.Name
			if out.AccountID == "" {
				out.AccountID = row.Name
			}
		}
		out.Balance = row.Amount
		if want.credit {
			out.Balance = out.Balance.Neg()
		}
		return out
	}
	out.Unresolved = !chart.Present || !tb.Present
	return out
}

// journalEntriesToARAP counts journal entries with at least one line
// posted to receivables or payables. Each entry counts once. The bool is
// false when the journal report could not be read.
func (r *run) journalEntriesToARAP(ar, ap models.ControlBalance) (int, bool) {
	rep, ok := r.report(models.ReportJournalEntries)
	if !ok {
		return 0, false
	}
	typ := rep.Column("txn_type", "Transaction Type", "Type")
	num := rep.Column("doc_num", "Num", "No.")
	date := rep.Column(dateColumns...)
	acct := rep.Column(accountColumns...)
	if !acct.Found() {
		r.warn(models.WarnColumnMissing, models.ReportJournalEntries, "account column not found")
		return 0, false
	}

	targets := map[string]struct{}{}
	for _, cb := range []models.ControlBalance{ar, ap} {
		if cb.AccountID != "" {
			targets["id:"+cb.AccountID] = struct{}{}
			targets["name:"+r.label(cb.Name)] = struct{}{}
		}
	}
	for _, n := range append(append([]string{}, accountsReceivable.names...), accountsPayable.names...) {
		targets["name:"+r.label(n)] = struct{}{}
	}

	var (
		entries = map[string]struct{}{}
		section string
		current string
		isJE    bool
		line    int
	)
	rep.EachDataRow(func(cells []qboreport.ColData, path []string) {
		line++
		if len(path) > 0 {
			if key := strings.Join(path, "|"); key != section {
				section, current, isJE = key, key, false
			}
		}
		if t := typ.Value(cells); t != "" {
			if len(path) == 0 {
				tc, _ := typ.Cell(cells)
				current = strings.TrimSpace(tc.ID)
				if current == "" {
					current = strings.Join([]string{date.Value(cells), t, num.Value(cells), strconv.Itoa(line)}, "|")
				}
			}
			isJE = r.label(t) == r.label("Journal Entry")
		}
		if !isJE || current == "" {
			return
		}
		cell, _ := acct.Cell(cells)
		_, byID := targets["id:"+strings.TrimSpace(cell.ID)]
		_, byName := targets["name:"+r.label(cell.Value)]
		if (byID && cell.ID != "") || byName {
			entries[current] = struct{}{}
		}
	})
	return len(entries), true
}
