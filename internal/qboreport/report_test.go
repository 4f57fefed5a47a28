package qboreport

import (
	stderrors "errors"
	"testing"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agingReport = `{
  "Header": {"ReportName": "AgedReceivableDetail", "EndPeriod": "2024-06-30",
             "Option": [{"Name": "report_date", "Value": "2024-06-30"}]},
  "Columns": {"Column": [
    {"ColTitle": "Date", "ColType": "Date", "MetaData": [{"Name": "ColKey", "Value": "tx_date"}]},
    {"ColTitle": "Due Date", "ColType": "Date", "MetaData": [{"Name": "ColKey", "Value": "due_date"}]},
    {"ColTitle": "Open Balance", "ColType": "Money", "MetaData": [{"Name": "ColKey", "Value": "subt_open_bal"}]}
  ]},
  "Rows": {"Row": [
    {"type": "Section", "Header": {"ColData": [{"value": "Current"}]},
     "Rows": {"Row": [{"type": "Data", "ColData": [{"value": "2024-06-20"}, {"value": "2024-07-20"}, {"value": "100.00"}]}]},
     "Summary": {"ColData": [{"value": "Total for Current"}, {"value": ""}, {"value": "100.00"}]}},
    {"type": "Section", "Header": {"ColData": [{"value": "91 or more days past due"}]},
     "Rows": {"Row": [{"type": "Data", "ColData": [{"value": "2024-01-02"}, {"value": "2024-02-01"}, {"value": "25.00"}]}]}},
    {"type": "Section", "group": "GrandTotal", "Summary": {"ColData": [{"value": "TOTAL"}, {"value": ""}, {"value": "125.00"}]}}
  ]}
}`

func TestDecodeReportShape(t *testing.T) {
	r, err := Decode("AgedReceivableDetail", []byte(agingReport))
	require.NoError(t, err)
	assert.Equal(t, ShapeReport, r.Shape)
	assert.Equal(t, "2024-06-30", r.Header.EndPeriod)
	assert.Equal(t, "2024-06-30", r.Option("REPORT_DATE"))
	assert.Len(t, r.Columns, 3)
	assert.Equal(t, 2, r.CountDataRows())

	var sections []string
	r.EachDataRow(func(_ []ColData, section []string) {
		sections = append(sections, section...)
	})
	assert.Equal(t, []string{"Current", "91 or more days past due"}, sections)

	total, ok := r.GrandTotal()
	require.True(t, ok)
	amount, ok := ParseAmount(r.Column("subt_open_bal").Value(total))
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("125")))
}

func TestDecodeUnwrapsEnvelopes(t *testing.T) {
	for name, payload := range map[string]string{
		"array":          `[` + agingReport + `]`,
		"data":           `{"data": ` + agingReport + `}`,
		"data in array":  `[{"data": ` + agingReport + `}]`,
		"data plus meta": `{"data": ` + agingReport + `, "status": "ok"}`,
	} {
		t.Run(name, func(t *testing.T) {
			r, err := Decode("AgedReceivableDetail", []byte(payload))
			require.NoError(t, err)
			assert.Equal(t, 2, r.CountDataRows())
		})
	}
}

func TestDecodeQueryShape(t *testing.T) {
	payload := `{"QueryResponse": {"Account": [
		{"Id": "35", "Name": "Checking", "AcctNum": "1000", "AccountType": "Bank",
		 "AccountSubType": "Checking", "Classification": "Asset", "CurrentBalance": 1201.5},
		{"Id": "36", "Name": "Petty", "SubAccount": true, "ParentRef": {"value": "35"}, "CurrentBalance": "12.00"}
	]}}`
	r, err := Decode("ChartOfAccounts", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, ShapeQuery, r.Shape)
	require.Len(t, r.Accounts, 2)
	assert.True(t, r.Accounts[0].CurrentBalance.Equal(decimal.RequireFromString("1201.5")))
	assert.Equal(t, "35", r.Accounts[1].ParentRef.Value)
}

func TestDecodeFailures(t *testing.T) {
	for name, payload := range map[string]string{
		"empty":       "  ",
		"not json":    "<html>",
		"empty array": "[]",
		"scalar":      `"hello"`,
		"no shape":    `{"foo": 1}`,
		"bad types":   `{"Rows": {"Row": "nope"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode("TrialBalance", []byte(payload))
			var mr *errors.MalformedReport
			require.True(t, stderrors.As(err, &mr), "got %v", err)
			assert.Equal(t, "TrialBalance", mr.Report)
		})
	}
}

func TestDecodeFault(t *testing.T) {
	_, err := Decode("TrialBalance", []byte(`{"Fault": {"Error": [{"Message": "AuthenticationFailed", "code": "3200"}], "type": "AUTHENTICATION"}}`))
	var pe *errors.ProviderError
	require.True(t, stderrors.As(err, &pe))
	assert.Equal(t, "3200", pe.Code)
}

func TestResolveColumn(t *testing.T) {
	cols := []Column{
		{ColTitle: "Date", ColType: "Date", MetaData: []NameValue{{Name: "ColKey", Value: "tx_date"}}},
		{ColTitle: "Clr", ColType: "String"},
		{ColTitle: "Amount", ColType: "Money", MetaData: []NameValue{{Name: "ColKey", Value: "subt_nat_amount"}}},
	}

	p := ResolveColumn(cols, "is_cleared", "clr", "Cleared")
	i, ok := p.Index()
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	assert.True(t, ResolveColumn(cols, "SUBT_NAT_AMOUNT").Found())
	assert.True(t, ResolveColumn(cols, "money").Found())

	absent := ResolveColumn(cols, "due_date")
	assert.False(t, absent.Found())
	_, ok = absent.Cell([]ColData{{Value: "x"}})
	assert.False(t, ok)
	assert.Equal(t, "", absent.Value(nil))

	// Short rows never panic.
	assert.Equal(t, "", ColumnFound(5).Value([]ColData{{Value: "a"}}))
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"1,234.56":   "1234.56",
		"(45.10)":    "-45.10",
		"$ 2,000":    "2000",
		"-0.01":      "-0.01",
		" 17 ":       "17",
		"($1,000.5)": "-1000.5",
	}
	for in, want := range cases {
		got, ok := ParseAmount(in)
		require.True(t, ok, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: got %s", in, got)
	}
	_, ok := ParseAmount("")
	assert.False(t, ok)
	_, ok = ParseAmount("n/a")
	assert.False(t, ok)
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-06-30", "06/30/2024", "6/30/2024"} {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, "2024-06-30", d.Format("2006-01-02"))
	}
	_, ok := ParseDate("yesterday")
	assert.False(t, ok)
}
