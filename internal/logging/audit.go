package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Connection lifecycle
	TokenConnected   AuditEventType = "TOKEN_CONNECTED"
	TokenRefreshed   AuditEventType = "TOKEN_REFRESHED"
	TokenSuperseded  AuditEventType = "TOKEN_SUPERSEDED"
	TokenDeactivated AuditEventType = "TOKEN_DEACTIVATED"
	TokenPurged      AuditEventType = "TOKEN_PURGED"

	// Authorization flow
	AuthorizationStarted  AuditEventType = "AUTHORIZATION_STARTED"
	AuthorizationRejected AuditEventType = "AUTHORIZATION_REJECTED"

	// Assessments
	AssessmentRun AuditEventType = "ASSESSMENT_RUN"
)

// AuditSeverity represents the severity level of an audit event
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent records one change to a company connection or one
// assessment run. Details must never contain token values.
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	Severity     AuditSeverity          `json:"severity"`
	UserID       string                 `json:"user_id,omitempty"`
	RealmID      string                 `json:"realm_id,omitempty"`
	Action       string                 `json:"action"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// AuditSink persists audit events.
type AuditSink interface {
	RecordAudit(ctx context.Context, event *AuditEvent) error
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Severity:  SeverityInfo,
		Action:    action,
		Status:    status,
	}
}

// WithUserID sets the user ID for the audit event
func (e *AuditEvent) WithUserID(userID string) *AuditEvent {
	e.UserID = userID
	return e
}

// WithRealmID sets the company realm for the audit event
func (e *AuditEvent) WithRealmID(realmID string) *AuditEvent {
	e.RealmID = realmID
	return e
}

// WithSeverity sets the severity for the audit event
func (e *AuditEvent) WithSeverity(severity AuditSeverity) *AuditEvent {
	e.Severity = severity
	return e
}

// WithDetails sets the details map for the audit event. Secret keys are
// masked on the way in.
func (e *AuditEvent) WithDetails(details map[string]interface{}) *AuditEvent {
	e.Details = RedactMap(details)
	return e
}

// WithError sets the error message and marks the event as failed
func (e *AuditEvent) WithError(errorMessage string) *AuditEvent {
	e.ErrorMessage = errorMessage
	e.Status = StatusFailure
	if e.Severity == "" || e.Severity == SeverityInfo {
		e.Severity = SeverityError
	}
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// ParseAuditEvent parses a JSON string into an AuditEvent
func ParseAuditEvent(data string) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse audit event: %w", err)
	}
	return &event, nil
}

// Audit writes the event to the log and, when sink is non-nil, to the
// sink. A sink failure is logged and not returned.
func (l *Logger) Audit(ctx context.Context, sink AuditSink, event *AuditEvent) {
	fields := []interface{}{
		"audit_id", event.ID,
		"event_type", string(event.EventType),
		"action", event.Action,
		"status", string(event.Status),
	}
	if event.UserID != "" {
		fields = append(fields, "user_id", event.UserID)
	}
	if event.RealmID != "" {
		fields = append(fields, "realm_id", event.RealmID)
	}
	if event.ErrorMessage != "" {
		fields = append(fields, "error", event.ErrorMessage)
	}

	switch event.Severity {
	case SeverityError, SeverityCritical:
		l.ErrorWithContext(ctx, "audit", fields...)
	case SeverityWarning:
		l.WarnWithContext(ctx, "audit", fields...)
	default:
		l.InfoWithContext(ctx, "audit", fields...)
	}

	if sink == nil {
		return
	}
	if err := sink.RecordAudit(ctx, event); err != nil {
		l.ErrorWithContext(ctx, "failed to persist audit event", "audit_id", event.ID, "error", err.Error())
	}
}
