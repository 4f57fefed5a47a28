package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigErrors(t *testing.T) {
	notFound := &ErrConfigNotFound{Path: "/tmp/config.yaml"}
	if !strings.Contains(notFound.Error(), notFound.Path) {
		t.Fatalf("expected path in error message: %s", notFound.Error())
	}

	base := errors.New("bad yaml")
	parse := &ErrConfigParse{Err: base}
	if !errors.Is(parse, base) {
		t.Fatalf("expected unwrap to base error")
	}

	validation := &ErrConfigValidation{Err: base}
	if !strings.Contains(validation.Error(), "config validation failed") {
		t.Fatalf("unexpected validation message: %s", validation.Error())
	}
	if !errors.Is(validation, base) {
		t.Fatalf("expected unwrap to base error")
	}
}

func TestDatabaseErrors(t *testing.T) {
	base := errors.New("db")

	migration := &ErrDatabaseMigration{Version: 2, Err: base}
	if !strings.Contains(migration.Error(), "database migration 2 failed") {
		t.Fatalf("unexpected migration message: %s", migration.Error())
	}
	if !errors.Is(migration, base) {
		t.Fatalf("expected unwrap to base error")
	}

	query := &ErrDatabaseQuery{Operation: "supersede token", Err: base}
	if !strings.Contains(query.Error(), "supersede token") {
		t.Fatalf("unexpected query message: %s", query.Error())
	}
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Code: "access_denied", Description: "User denied consent", Status: 400}
	msg := err.Error()
	for _, want := range []string{"access_denied", "User denied consent", "400"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
	if err.IsInvalidGrant() {
		t.Fatalf("access_denied is not invalid_grant")
	}
	if !(&ProviderError{Code: "invalid_grant"}).IsInvalidGrant() {
		t.Fatalf("expected invalid_grant detection")
	}
}

func TestPayloadErrorsUnwrap(t *testing.T) {
	base := errors.New("unexpected end of JSON input")

	cb := &MalformedCallback{Reason: "payload is not valid JSON", Err: base}
	if !errors.Is(cb, base) {
		t.Fatalf("expected callback error to unwrap")
	}

	report := &MalformedReport{Report: "TrialBalance", Reason: "decode", Err: base}
	if !strings.Contains(report.Error(), "TrialBalance") {
		t.Fatalf("expected report name in message: %s", report.Error())
	}
	if !errors.Is(report, base) {
		t.Fatalf("expected report error to unwrap")
	}
}

func TestPartialDataErrorListsReportsSorted(t *testing.T) {
	err := &PartialDataError{Failed: map[string]string{
		"AgedPayableDetail": "timeout",
		"JournalReport":     "status 502",
	}}
	want := "partial data: 2 report(s) failed: AgedPayableDetail, JournalReport"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestIsUserRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no token", &NoTokenFound{UserID: "u1"}, false},
		{"invariant", &ScoringInvariantViolation{Pillar: "aging", Detail: "x"}, false},
		{"invalid grant", &ProviderError{Code: "invalid_grant"}, false},
		{"denied", &ProviderError{Code: "access_denied"}, true},
		{"wrapped malformed", fmt.Errorf("fetch: %w", &MalformedReport{Report: "TrialBalance"}), true},
		{"plain", errors.New("network"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserRetryable(tt.err); got != tt.want {
				t.Fatalf("IsUserRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUserMessageHidesParseDetails(t *testing.T) {
	err := fmt.Errorf("complete: %w", &MalformedCallback{Reason: "bad", Err: errors.New("invalid character 'x'")})
	msg := UserMessage(err)
	if strings.Contains(msg, "invalid character") {
		t.Fatalf("parse error leaked to user message: %s", msg)
	}
	if msg == "" {
		t.Fatalf("expected a user message")
	}

	provider := UserMessage(&ProviderError{Code: "access_denied", Description: "User denied consent"})
	if provider != "User denied consent" {
		t.Fatalf("provider description should be surfaced verbatim, got %q", provider)
	}

	if UserMessage(ErrStaleFetch) == "" {
		t.Fatalf("expected message for stale fetch")
	}
}
