package store

import (
	"context"
	"errors"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches nothing.
	ErrNotFound = errors.New("store: not found")
	// ErrTokenNotActive is returned when a replace targets a record that
	// was already deactivated, typically by a concurrent refresh.
	ErrTokenNotActive = errors.New("store: token is not active")
)

// TokenStore persists OAuth credential records.
//
// Implementations keep at most one active record per realm. SaveToken
// and ReplaceToken change active records atomically.
type TokenStore interface {
	// SaveToken inserts rec as the active record for its realm and
	// supersedes whatever was active for that realm before. It returns
	// the number of superseded records.
	SaveToken(ctx context.Context, rec *models.OAuthTokenRecord) (int, error)
	// ReplaceToken deactivates oldID with reason refreshed and inserts next.
	ReplaceToken(ctx context.Context, oldID string, next *models.OAuthTokenRecord) error
	// GetActiveToken returns the user's active record for realmID, or the
	// most recently issued active record when realmID is empty.
	GetActiveToken(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error)
	GetToken(ctx context.Context, id string) (*models.OAuthTokenRecord, error)
	// ListTokens returns all of a user's records, newest first.
	ListTokens(ctx context.Context, userID string) ([]*models.OAuthTokenRecord, error)
	// DeactivateTokens marks one realm (or all when realmID is empty)
	// inactive. Already inactive records are left untouched.
	DeactivateTokens(ctx context.Context, userID, realmID string, reason models.DeactivationReason) (int, error)
	// PurgeTokens physically deletes records.
	PurgeTokens(ctx context.Context, userID, realmID string) (int, error)
}

// StateStore keeps pending authorization states. States are single use.
type StateStore interface {
	SaveState(ctx context.Context, state *models.OAuthState) error
	// ConsumeState returns and removes the state. ErrNotFound when unknown.
	ConsumeState(ctx context.Context, value string) (*models.OAuthState, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	TokenStore
	StateStore
	logging.AuditSink
	ListAuditEvents(ctx context.Context, userID string, limit int) ([]*logging.AuditEvent, error)
	Close() error
}
