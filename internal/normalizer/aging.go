package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/qboreport"
)

var agingAmountColumns = []string{"subt_open_bal", "Open Balance", "open_bal", "subt_amount", "Amount"}

// aging buckets one side's open items by days past due. A missing or
// unreadable report yields a zeroed side with Present=false.
func (r *run) aging(rt models.ReportType, side models.AgingSide) models.AgingBuckets {
	rep, ok := r.report(rt)
	if !ok {
		out := models.NewAgingBuckets(side, false)
		out.AsOf = r.raw.Window.LastDay()
		r.warn(models.WarnAgingSubstituted, rt, fmt.Sprintf("%s aging unavailable; zeroed buckets used", side))
		return out
	}

	amount := rep.Column(agingAmountColumns...)
	if !amount.Found() {
		out := models.NewAgingBuckets(side, false)
		out.AsOf = r.raw.Window.LastDay()
		r.warn(models.WarnColumnMissing, rt, "open balance column not found")
		r.warn(models.WarnAgingSubstituted, rt, fmt.Sprintf("%s aging unreadable; zeroed buckets used", side))
		return out
	}
	due := rep.Column("due_date", "Due Date")
	date := rep.Column(dateColumns...)

	out := models.NewAgingBuckets(side, true)
	out.AsOf = r.agingAsOf(rep)

	undated := 0
	rep.EachDataRow(func(cells []qboreport.ColData, _ []string) {
		if first := strings.TrimSpace(cellValue(cells, 0)); strings.HasPrefix(strings.ToUpper(first), "TOTAL") {
			return
		}
		amt, ok := qboreport.ParseAmount(amount.Value(cells))
		if !ok {
			return
		}
		ref, ok := qboreport.ParseDate(due.Value(cells))
		if !ok {
			ref, ok = qboreport.ParseDate(date.Value(cells))
		}
		days := 0
		if ok {
			days = models.DaysBetween(ref, out.AsOf)
		} else {
			undated++
		}
		out.Add(days, amt)
	})
	if undated > 0 {
		r.warn(models.WarnColumnMissing, rt, fmt.Sprintf("%d line(s) without due or invoice date counted as current", undated))
	}

	out.ReportedTotal = out.Sum()
	if cells, ok := rep.GrandTotal(); ok {
		if total, ok := qboreport.ParseAmount(amount.Value(cells)); ok {
			out.ReportedTotal = total
		}
	}
	return out
}

// agingAsOf picks the report as-of date: header end period, then the
// report_date option, then the window's last day.
func (r *run) agingAsOf(rep *qboreport.Report) time.Time {
	for _, v := range []string{rep.Header.EndPeriod, rep.Option("report_date")} {
		if d, ok := qboreport.ParseDate(v); ok {
			return d
		}
	}
	return r.raw.Window.LastDay()
}
