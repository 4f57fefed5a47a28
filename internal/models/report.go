package models

import (
	"encoding/json"
	"time"
)

// ReportType is the discriminator sent to the report proxy.
type ReportType string

const (
	ReportTransactionList ReportType = "TransactionList"
	ReportChartOfAccounts ReportType = "ChartOfAccounts"
	ReportJournalEntries  ReportType = "JournalReport"
	ReportTrialBalance    ReportType = "TrialBalance"
	ReportARAging         ReportType = "AgedReceivableDetail"
	ReportAPAging         ReportType = "AgedPayableDetail"
)

// AllReportTypes lists every report an assessment needs, in display order.
var AllReportTypes = []ReportType{
	ReportTransactionList,
	ReportChartOfAccounts,
	ReportJournalEntries,
	ReportTrialBalance,
	ReportARAging,
	ReportAPAging,
}

// FetchStatus is the per-report progress state.
type FetchStatus string

const (
	FetchPending   FetchStatus = "pending"
	FetchImporting FetchStatus = "importing"
	FetchCompleted FetchStatus = "completed"
	FetchError     FetchStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s FetchStatus) Terminal() bool {
	return s == FetchCompleted || s == FetchError
}

// RawReport is one payload as returned by the proxy.
type RawReport struct {
	Type     ReportType      `json:"type"`
	Status   FetchStatus     `json:"status"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// OK reports whether the report arrived and can be normalized.
func (r *RawReport) OK() bool {
	return r != nil && r.Status == FetchCompleted && len(r.Payload) > 0
}

// RawReportBundle collects the reports fetched for one realm and window.
type RawReportBundle struct {
	FetchID   string                    `json:"fetch_id"`
	RealmID   string                    `json:"realm_id"`
	Window    DateWindow                `json:"window"`
	Reports   map[ReportType]*RawReport `json:"reports"`
	StartedAt time.Time                 `json:"started_at"`
	EndedAt   time.Time                 `json:"ended_at"`
}

// NewRawReportBundle returns an empty bundle.
func NewRawReportBundle(realmID string, window DateWindow) *RawReportBundle {
	return &RawReportBundle{
		RealmID: realmID,
		Window:  window,
		Reports: make(map[ReportType]*RawReport, len(AllReportTypes)),
	}
}

// Report returns the report of the given type or nil.
func (b *RawReportBundle) Report(t ReportType) *RawReport {
	if b == nil || b.Reports == nil {
		return nil
	}
	return b.Reports[t]
}

// Failed maps each failed report to its error text.
func (b *RawReportBundle) Failed() map[string]string {
	failed := make(map[string]string)
	if b == nil {
		return failed
	}
	for _, t := range AllReportTypes {
		r := b.Reports[t]
		if r == nil {
			failed[string(t)] = "not fetched"
			continue
		}
		if r.Status == FetchError {
			failed[string(t)] = r.Error
		}
	}
	return failed
}

// Statuses returns the terminal status of each report.
func (b *RawReportBundle) Statuses() map[ReportType]FetchStatus {
	out := make(map[ReportType]FetchStatus, len(AllReportTypes))
	for _, t := range AllReportTypes {
		if r := b.Report(t); r != nil {
			out[t] = r.Status
		} else {
			out[t] = FetchError
		}
	}
	return out
}
