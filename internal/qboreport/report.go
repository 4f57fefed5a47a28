// Package qboreport decodes QuickBooks Online report and query payloads as
// relayed by the proxy. Layouts vary by company and report version, so
// every accessor tolerates missing pieces.
package qboreport

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/shopspring/decimal"
)

// maxUnwrap bounds envelope and array unwrapping.
const maxUnwrap = 4

// Shape tells which top-level format a payload used.
type Shape int

const (
	ShapeReport Shape = iota
	ShapeQuery
)

// NameValue is the QBO name/value pair used for options and metadata.
type NameValue struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Header is the report header.
type Header struct {
	ReportName  string      `json:"ReportName"`
	StartPeriod string      `json:"StartPeriod"`
	EndPeriod   string      `json:"EndPeriod"`
	Currency    string      `json:"Currency"`
	Option      []NameValue `json:"Option"`
}

// Column describes one report column.
type Column struct {
	ColTitle string      `json:"ColTitle"`
	ColType  string      `json:"ColType"`
	MetaData []NameValue `json:"MetaData"`
}

// Key returns the ColKey metadata value, if any.
func (c Column) Key() string {
	for _, md := range c.MetaData {
		if strings.EqualFold(md.Name, "ColKey") {
			return md.Value
		}
	}
	return ""
}

// Columns wraps the column list.
type Columns struct {
	Column []Column `json:"Column"`
}

// ColData is one cell.
type ColData struct {
	Value string `json:"value"`
	ID    string `json:"id,omitempty"`
}

// RowGroup holds the cells of a section header or summary.
type RowGroup struct {
	ColData []ColData `json:"ColData"`
}

// Row is a data row or a section with nested rows.
type Row struct {
	Type    string    `json:"type"`
	Group   string    `json:"group"`
	ColData []ColData `json:"ColData"`
	Header  *RowGroup `json:"Header"`
	Rows    *Rows     `json:"Rows"`
	Summary *RowGroup `json:"Summary"`
}

// IsData reports whether the row carries leaf cells.
func (r Row) IsData() bool {
	if strings.EqualFold(r.Type, "Section") {
		return false
	}
	return len(r.ColData) > 0
}

// Rows wraps the row list.
type Rows struct {
	Row []Row `json:"Row"`
}

// Ref is a QBO entity reference.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name"`
}

// Account is one entry of an Account query.
type Account struct {
	ID                 string          `json:"Id"`
	Name               string          `json:"Name"`
	FullyQualifiedName string          `json:"FullyQualifiedName"`
	AcctNum            string          `json:"AcctNum"`
	AccountType        string          `json:"AccountType"`
	AccountSubType     string          `json:"AccountSubType"`
	Classification     string          `json:"Classification"`
	SubAccount         bool            `json:"SubAccount"`
	ParentRef          *Ref            `json:"ParentRef"`
	CurrentBalance     decimal.Decimal `json:"CurrentBalance"`
	Active             *bool           `json:"Active"`
}

// Report is a decoded payload. Exactly one of the report fields or
// Accounts is populated, per Shape.
type Report struct {
	Name     string
	Shape    Shape
	Header   Header
	Columns  []Column
	Rows     []Row
	Accounts []Account
}

type fault struct {
	Error []struct {
		Message string `json:"Message"`
		Detail  string `json:"Detail"`
		Code    string `json:"code"`
	} `json:"Error"`
}

type wire struct {
	Header        *Header  `json:"Header"`
	Columns       *Columns `json:"Columns"`
	Rows          *Rows    `json:"Rows"`
	QueryResponse *struct {
		Account []Account `json:"Account"`
	} `json:"QueryResponse"`
	Fault *fault `json:"Fault"`
}

// Decode parses a raw payload for the named report. Wrapped arrays and
// {"data": ...} envelopes are unwrapped. A QBO Fault body is returned as
// a ProviderError; anything else unreadable is a MalformedReport.
func Decode(name string, raw []byte) (*Report, error) {
	body, err := unwrap(name, bytes.TrimSpace(raw))
	if err != nil {
		return nil, err
	}

	var w wire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, &errors.MalformedReport{Report: name, Reason: "unexpected structure", Err: err}
	}
	if w.Fault != nil && len(w.Fault.Error) > 0 {
		e := w.Fault.Error[0]
		desc := e.Message
		if e.Detail != "" {
			desc += ": " + e.Detail
		}
		return nil, &errors.ProviderError{Code: e.Code, Description: desc}
	}

	r := &Report{Name: name}
	switch {
	case w.QueryResponse != nil:
		r.Shape = ShapeQuery
		r.Accounts = w.QueryResponse.Account
	case w.Header != nil || w.Columns != nil || w.Rows != nil:
		r.Shape = ShapeReport
		if w.Header != nil {
			r.Header = *w.Header
		}
		if w.Columns != nil {
			r.Columns = w.Columns.Column
		}
		if w.Rows != nil {
			r.Rows = w.Rows.Row
		}
	default:
		return nil, &errors.MalformedReport{Report: name, Reason: "neither a report nor a query response"}
	}
	return r, nil
}

func unwrap(name string, body []byte) ([]byte, error) {
	for i := 0; i < maxUnwrap; i++ {
		if len(body) == 0 {
			return nil, &errors.MalformedReport{Report: name, Reason: "empty payload"}
		}
		if !json.Valid(body) {
			return nil, &errors.MalformedReport{Report: name, Reason: "payload is not valid JSON"}
		}
		switch body[0] {
		case '[':
			var items []json.RawMessage
			if err := json.Unmarshal(body, &items); err != nil {
				return nil, &errors.MalformedReport{Report: name, Reason: "unexpected structure", Err: err}
			}
			if len(items) == 0 {
				return nil, &errors.MalformedReport{Report: name, Reason: "empty array"}
			}
			body = bytes.TrimSpace(items[0])
		case '{':
			var env map[string]json.RawMessage
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, &errors.MalformedReport{Report: name, Reason: "unexpected structure", Err: err}
			}
			data, ok := env["data"]
			if !ok || hasReportKeys(env) {
				return body, nil
			}
			body = bytes.TrimSpace(data)
		default:
			return nil, &errors.MalformedReport{Report: name, Reason: "payload is not an object"}
		}
	}
	return nil, &errors.MalformedReport{Report: name, Reason: "too many nested envelopes"}
}

func hasReportKeys(env map[string]json.RawMessage) bool {
	for _, k := range []string{"Header", "Columns", "Rows", "QueryResponse", "Fault"} {
		if _, ok := env[k]; ok {
			return true
		}
	}
	return false
}

// Option returns a header option value by case-insensitive name.
func (r *Report) Option(name string) string {
	for _, o := range r.Header.Option {
		if strings.EqualFold(o.Name, name) {
			return o.Value
		}
	}
	return ""
}

// Column resolves a column by variant names.
func (r *Report) Column(variants ...string) ColumnMatch {
	return ResolveColumn(r.Columns, variants...)
}

// EachDataRow visits leaf rows depth-first. section holds the header
// labels of the enclosing sections, outermost first.
func (r *Report) EachDataRow(fn func(cells []ColData, section []string)) {
	var walk func(rows []Row, section []string)
	walk = func(rows []Row, section []string) {
		for _, row := range rows {
			if row.IsData() {
				fn(row.ColData, section)
				continue
			}
			if row.Rows == nil {
				continue
			}
			next := section
			if row.Header != nil && len(row.Header.ColData) > 0 {
				next = append(append([]string(nil), section...), strings.TrimSpace(row.Header.ColData[0].Value))
			}
			walk(row.Rows.Row, next)
		}
	}
	walk(r.Rows, nil)
}

// CountDataRows returns the number of leaf rows.
func (r *Report) CountDataRows() int {
	n := 0
	r.EachDataRow(func([]ColData, []string) { n++ })
	return n
}

// GrandTotal returns the summary cells of the report-wide total row.
func (r *Report) GrandTotal() ([]ColData, bool) {
	for i := len(r.Rows) - 1; i >= 0; i-- {
		row := r.Rows[i]
		if strings.EqualFold(row.Group, "GrandTotal") {
			if row.Summary != nil {
				return row.Summary.ColData, true
			}
			if len(row.ColData) > 0 {
				return row.ColData, true
			}
		}
	}
	for i := len(r.Rows) - 1; i >= 0; i-- {
		row := r.Rows[i]
		cells := row.ColData
		if row.Summary != nil && row.Rows == nil {
			cells = row.Summary.ColData
		}
		if len(cells) > 0 && strings.HasPrefix(strings.ToUpper(strings.TrimSpace(cells[0].Value)), "TOTAL") {
			return cells, true
		}
	}
	return nil, false
}
