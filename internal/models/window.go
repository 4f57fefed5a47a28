package models

import (
	"fmt"
	"time"
)

const (
	DefaultWindowDays = 90
	MinWindowDays     = 1
	MaxWindowDays     = 365

	dateLayout = "2006-01-02"
)

// DateWindow is the half-open day range [Start, End) that every report
// pull covers. End is the midnight after the as-of day.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
}

// NewDateWindow builds a window of days ending with asOf (inclusive).
// Zero days selects DefaultWindowDays.
func NewDateWindow(days int, asOf time.Time) (DateWindow, error) {
	if days == 0 {
		days = DefaultWindowDays
	}
	if days < MinWindowDays || days > MaxWindowDays {
		return DateWindow{}, fmt.Errorf("window must be between %d and %d days, got %d", MinWindowDays, MaxWindowDays, days)
	}
	end := truncateDay(asOf).AddDate(0, 0, 1)
	return DateWindow{
		Start: end.AddDate(0, 0, -days),
		End:   end,
		Days:  days,
	}, nil
}

// LastDay returns the inclusive last day of the window.
func (w DateWindow) LastDay() time.Time {
	return w.End.AddDate(0, 0, -1)
}

// Contains reports whether t falls inside [Start, End).
func (w DateWindow) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(w.Start) && d.Before(w.End)
}

// StartDate formats Start the way the report proxy expects.
func (w DateWindow) StartDate() string {
	return w.Start.Format(dateLayout)
}

// EndDate formats the inclusive last day the way the report proxy expects.
func (w DateWindow) EndDate() string {
	return w.LastDay().Format(dateLayout)
}

// IsZero reports whether the window was never initialized.
func (w DateWindow) IsZero() bool {
	return w.Days == 0 && w.Start.IsZero() && w.End.IsZero()
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b (b - a).
func DaysBetween(a, b time.Time) int {
	return int(truncateDay(b).Sub(truncateDay(a)).Hours() / 24)
}
