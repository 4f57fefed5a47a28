package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingSink struct {
	events []*AuditEvent
	err    error
}

func (s *recordingSink) RecordAudit(_ context.Context, event *AuditEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func TestAuditEventLifecycle(t *testing.T) {
	event := NewAuditEvent(TokenConnected, "complete_authorization", StatusSuccess).
		WithUserID("user_1").
		WithRealmID("9130350000000000").
		WithDetails(map[string]interface{}{"token_type": "bearer", "access_token": "eyJ..."})

	if event.UserID != "user_1" || event.RealmID != "9130350000000000" {
		t.Fatalf("expected user and realm to be set")
	}
	if event.Details["access_token"] != RedactedValue {
		t.Fatalf("expected access token to be redacted, got %v", event.Details["access_token"])
	}

	event.WithError("boom")
	if event.Status != StatusFailure || event.Severity != SeverityError {
		t.Fatalf("expected failure status with error severity")
	}

	parsed, err := ParseAuditEvent(event.ToJSON())
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if parsed.Action != event.Action || parsed.EventType != TokenConnected {
		t.Fatalf("expected parsed event to match")
	}
}

func TestAuditEventJSONErrors(t *testing.T) {
	event := NewAuditEvent(AssessmentRun, "run", StatusSuccess)
	event.Details = map[string]interface{}{"bad": func() {}}
	if !strings.Contains(event.ToJSON(), "failed to marshal audit event") {
		t.Fatalf("expected marshal failure message")
	}

	if _, err := ParseAuditEvent("{invalid json"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoggerAuditWritesSinkAndLog(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))
	sink := &recordingSink{}

	logger.Audit(context.Background(), sink, NewAuditEvent(TokenRefreshed, "refresh", StatusSuccess).WithRealmID("r1"))

	if len(sink.events) != 1 {
		t.Fatalf("expected one persisted event, got %d", len(sink.events))
	}
	entry := decodeLastLog(t, buf.Bytes())
	fields := entry["fields"].(map[string]interface{})
	if fields["event_type"] != string(TokenRefreshed) || fields["realm_id"] != "r1" {
		t.Fatalf("unexpected audit log fields: %v", fields)
	}
}

func TestLoggerAuditSinkFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))
	sink := &recordingSink{err: errors.New("disk full")}

	logger.Audit(context.Background(), sink, NewAuditEvent(TokenPurged, "purge", StatusSuccess))

	entry := decodeLastLog(t, buf.Bytes())
	if entry["message"] != "failed to persist audit event" {
		t.Fatalf("expected sink failure log, got %v", entry["message"])
	}
}
