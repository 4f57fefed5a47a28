package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Provider errors

// ProviderError is returned when the identity or accounting provider
// itself reported a failure, for example a denied consent screen or an
// invalid_grant on refresh. Code and Description are kept verbatim.
type ProviderError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProviderError) Error() string {
	msg := "provider error"
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" [status %d]", e.Status)
	}
	return msg
}

// IsInvalidGrant reports whether the provider rejected the refresh token.
func (e *ProviderError) IsInvalidGrant() bool {
	return e.Code == "invalid_grant"
}

// Payload errors

type MalformedCallback struct {
	Reason string
	Err    error
}

func (e *MalformedCallback) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed oauth callback: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed oauth callback: %s", e.Reason)
}

func (e *MalformedCallback) Unwrap() error {
	return e.Err
}

type MalformedReport struct {
	Report string
	Reason string
	Err    error
}

func (e *MalformedReport) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed report %s: %s: %v", e.Report, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed report %s: %s", e.Report, e.Reason)
}

func (e *MalformedReport) Unwrap() error {
	return e.Err
}

// Credential errors

type NoTokenFound struct {
	UserID  string
	RealmID string
}

func (e *NoTokenFound) Error() string {
	if e.RealmID != "" {
		return fmt.Sprintf("no active token for user %s realm %s", e.UserID, e.RealmID)
	}
	return fmt.Sprintf("no active token for user %s", e.UserID)
}

type CsrfStateMismatch struct {
	Reason string
}

func (e *CsrfStateMismatch) Error() string {
	return fmt.Sprintf("oauth state mismatch: %s", e.Reason)
}

// Assessment errors

// PartialDataError lists the reports that failed while others succeeded.
// It is informational: scoring proceeds on the data that arrived.
type PartialDataError struct {
	Failed map[string]string
}

func (e *PartialDataError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("partial data: %d report(s) failed: %s", len(names), strings.Join(names, ", "))
}

type ScoringInvariantViolation struct {
	Pillar string
	Detail string
}

func (e *ScoringInvariantViolation) Error() string {
	return fmt.Sprintf("scoring invariant violated in %s: %s", e.Pillar, e.Detail)
}

// ErrStaleFetch is returned when a newer fetch started for the same
// connection before this one completed.
var ErrStaleFetch = stderrors.New("fetch superseded by a newer fetch")

// IsUserRetryable reports whether the user should be offered a retry.
func IsUserRetryable(err error) bool {
	if err == nil {
		return false
	}
	var noToken *NoTokenFound
	if stderrors.As(err, &noToken) {
		return false
	}
	var invariant *ScoringInvariantViolation
	if stderrors.As(err, &invariant) {
		return false
	}
	var provider *ProviderError
	if stderrors.As(err, &provider) {
		return !provider.IsInvalidGrant()
	}
	return true
}

// UserMessage maps an error to text safe to show an end user. Parse
// failures never leak their underlying cause.
func UserMessage(err error) string {
	var (
		provider  *ProviderError
		callback  *MalformedCallback
		report    *MalformedReport
		noToken   *NoTokenFound
		csrf      *CsrfStateMismatch
		partial   *PartialDataError
		invariant *ScoringInvariantViolation
	)
	switch {
	case err == nil:
		return ""
	case stderrors.As(err, &provider):
		if provider.Description != "" {
			return provider.Description
		}
		if provider.Code != "" {
			return "QuickBooks returned an error: " + provider.Code
		}
		return "QuickBooks returned an error. Please try again."
	case stderrors.As(err, &callback), stderrors.As(err, &report):
		return "We could not read the response from QuickBooks. Please try again."
	case stderrors.As(err, &noToken):
		return "Connect your QuickBooks company to continue."
	case stderrors.As(err, &csrf):
		return "This sign-in link has expired or was already used. Please connect again."
	case stderrors.As(err, &partial):
		return "Some reports could not be imported. Results are based on the data that was available."
	case stderrors.As(err, &invariant):
		return "The assessment could not be completed because the imported data is inconsistent."
	case stderrors.Is(err, ErrStaleFetch):
		return "A newer import is already running."
	default:
		return "Something went wrong. Please try again."
	}
}
