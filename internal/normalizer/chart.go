package normalizer

import (
	"sort"
	"strings"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/qboreport"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type chartAccount struct {
	ID             string
	Name           string
	FullName       string
	Number         string
	Type           string
	SubType        string
	Classification string
	SubAccount     bool
	ParentID       string
	// ParentName is set instead of ParentID for report-shaped charts,
	// which express hierarchy only through "Parent:Child" names.
	ParentName string
	Balance    decimal.Decimal
	HasBalance bool
}

// chartOfAccounts is the decoded chart with lookups by id and label.
type chartOfAccounts struct {
	Present  bool
	Accounts []chartAccount
	// checked lists which detail fields the payload shape carries.
	checked struct{ subType, classification bool }
	byID    map[string]*chartAccount
	byLabel map[string]*chartAccount
}

func (c *chartOfAccounts) find(id, name string, label func(string) string) *chartAccount {
	if c == nil || !c.Present {
		return nil
	}
	if id != "" {
		if a, ok := c.byID[id]; ok {
			return a
		}
	}
	if name != "" {
		if a, ok := c.byLabel[label(name)]; ok {
			return a
		}
	}
	return nil
}

func (r *run) chart() *chartOfAccounts {
	c := &chartOfAccounts{}
	rep, ok := r.report(models.ReportChartOfAccounts)
	if !ok {
		return c
	}
	c.Present = true

	switch rep.Shape {
	case qboreport.ShapeQuery:
		c.checked.subType, c.checked.classification = true, true
		for _, a := range rep.Accounts {
			if a.Active != nil && !*a.Active {
				continue
			}
			acct := chartAccount{
				ID:             strings.TrimSpace(a.ID),
				Name:           a.Name,
				FullName:       a.FullyQualifiedName,
				Number:         a.AcctNum,
				Type:           a.AccountType,
				SubType:        a.AccountSubType,
				Classification: a.Classification,
				SubAccount:     a.SubAccount,
				Balance:        a.CurrentBalance,
				HasBalance:     true,
			}
			if a.ParentRef != nil {
				acct.ParentID = strings.TrimSpace(a.ParentRef.Value)
			}
			c.Accounts = append(c.Accounts, acct)
		}
	default:
		c.Accounts = r.chartFromReport(rep)
		c.checked.subType = rep.Column("detail_acc_type", "Detail Type").Found()
	}

	c.byID = make(map[string]*chartAccount, len(c.Accounts))
	c.byLabel = make(map[string]*chartAccount, len(c.Accounts)*2)
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.ID != "" {
			c.byID[a.ID] = a
		}
		for _, n := range []string{a.Name, a.FullName} {
			if k := r.label(n); k != "" {
				if _, dup := c.byLabel[k]; !dup {
					c.byLabel[k] = a
				}
			}
		}
	}
	return c
}

func (r *run) chartFromReport(rep *qboreport.Report) []chartAccount {
	name := rep.Column("account_name", "Account", "Name")
	typ := rep.Column("account_type", "Type", "Account Type")
	detail := rep.Column("detail_acc_type", "Detail Type")
	num := rep.Column("acct_num", "Account #", "Num", "Number")
	bal := rep.Column("acct_bal", "Balance", "Current Balance")
	if !name.Found() {
		r.warn(models.WarnColumnMissing, models.ReportChartOfAccounts, "account name column not found")
		return nil
	}

	var out []chartAccount
	rep.EachDataRow(func(cells []qboreport.ColData, _ []string) {
		cell, _ := name.Cell(cells)
		full := strings.TrimSpace(cell.Value)
		if full == "" {
			return
		}
		a := chartAccount{
			ID:       strings.TrimSpace(cell.ID),
			FullName: full,
			Name:     full,
			Number:   num.Value(cells),
			Type:     typ.Value(cells),
			SubType:  detail.Value(cells),
		}
		if i := strings.LastIndex(full, ":"); i > 0 {
			a.SubAccount = true
			a.Name = strings.TrimSpace(full[i+1:])
			a.ParentName = strings.TrimSpace(full[:i])
		}
		if d, ok := qboreport.ParseAmount(bal.Value(cells)); ok {
			a.Balance, a.HasBalance = d, true
		}
		out = append(out, a)
	})
	return out
}

func (r *run) chartIntegrity(c *chartOfAccounts) models.ChartIntegrity {
	out := models.ChartIntegrity{
		Present:           c.Present,
		DuplicateNames:    []string{},
		DuplicateNumbers:  []string{},
		MissingDetail:     []models.AccountRef{},
		OrphanSubAccounts: []models.AccountRef{},
	}
	if !c.Present {
		return out
	}
	out.TotalAccounts = len(c.Accounts)

	// Names are compared on the fully qualified form so "Utilities:Gas"
	// and "Travel:Gas" are distinct accounts.
	out.DuplicateNames = r.duplicates(lo.Map(c.Accounts, func(a chartAccount, _ int) string {
		if a.FullName != "" {
			return a.FullName
		}
		return a.Name
	}))
	out.DuplicateNumbers = r.duplicates(lo.Map(c.Accounts, func(a chartAccount, _ int) string { return a.Number }))

	fullNames := lo.SliceToMap(c.Accounts, func(a chartAccount) (string, struct{}) {
		return r.label(a.FullName), struct{}{}
	})
	for _, a := range c.Accounts {
		ref := models.AccountRef{ID: a.ID, Name: displayName(a)}
		if strings.TrimSpace(a.Type) == "" ||
			(c.checked.subType && strings.TrimSpace(a.SubType) == "") ||
			(c.checked.classification && strings.TrimSpace(a.Classification) == "") {
			out.MissingDetail = append(out.MissingDetail, ref)
		}
		if !a.SubAccount {
			continue
		}
		switch {
		case a.ParentID != "":
			if _, ok := c.byID[a.ParentID]; !ok {
				out.OrphanSubAccounts = append(out.OrphanSubAccounts, ref)
			}
		case a.ParentName != "":
			if _, ok := fullNames[r.label(a.ParentName)]; !ok {
				out.OrphanSubAccounts = append(out.OrphanSubAccounts, ref)
			}
		default:
			out.OrphanSubAccounts = append(out.OrphanSubAccounts, ref)
		}
	}
	return out
}

// duplicates returns each key seen more than once, in its first-seen
// display form, sorted. Blank values are ignored.
func (r *run) duplicates(values []string) []string {
	first := make(map[string]string, len(values))
	seen := make(map[string]int, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		k := r.dupKey(v)
		if _, ok := first[k]; !ok {
			first[k] = strings.TrimSpace(v)
		}
		seen[k]++
	}
	out := []string{}
	for k, n := range seen {
		if n > 1 {
			out = append(out, first[k])
		}
	}
	sort.Strings(out)
	return out
}

func displayName(a chartAccount) string {
	if n := strings.TrimSpace(a.FullName); n != "" {
		return n
	}
	return strings.TrimSpace(a.Name)
}

// trialBalance maps account labels to debit minus credit.
type trialBalance struct {
	Present bool
	rows    map[string]tbRow
}

type tbRow struct {
	ID     string
	Name   string
	Amount decimal.Decimal
}

func (t *trialBalance) find(name string, label func(string) string) (tbRow, bool) {
	if t == nil || !t.Present {
		return tbRow{}, false
	}
	row, ok := t.rows[label(name)]
	return row, ok
}

func (r *run) trialBalance() *trialBalance {
	t := &trialBalance{rows: map[string]tbRow{}}
	rep, ok := r.report(models.ReportTrialBalance)
	if !ok {
		return t
	}
	t.Present = true

	name := rep.Column("account_name", "Account")
	if !name.Found() {
		name = qboreport.ColumnFound(0)
	}
	debit := rep.Column("debt_amt", "Debit")
	credit := rep.Column("credit_amt", "Credit")
	if !debit.Found() && !credit.Found() {
		r.warn(models.WarnColumnMissing, models.ReportTrialBalance, "debit and credit columns not found")
		t.Present = false
		return t
	}

	rep.EachDataRow(func(cells []qboreport.ColData, _ []string) {
		cell, ok := name.Cell(cells)
		n := strings.TrimSpace(cell.Value)
		if !ok || n == "" || strings.HasPrefix(strings.ToUpper(n), "TOTAL") {
			return
		}
		d, _ := qboreport.ParseAmount(debit.Value(cells))
		c, _ := qboreport.ParseAmount(credit.Value(cells))
		row := tbRow{ID: strings.TrimSpace(cell.ID), Name: n, Amount: d.Sub(c)}
		t.rows[r.label(n)] = row
		// Trial balance rows carry the fully qualified name.
		if i := strings.LastIndex(n, ":"); i > 0 {
			if short := r.label(n[i+1:]); short != "" {
				if _, exists := t.rows[short]; !exists {
					t.rows[short] = row
				}
			}
		}
	})
	return t
}
