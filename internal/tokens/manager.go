// Package tokens manages the lifecycle of QuickBooks credential records:
// storing newly issued grants, lazy expiry checks, refresh through the
// proxy and deactivation.
package tokens

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Refresher exchanges a refresh token for a new grant.
type Refresher interface {
	RefreshToken(ctx context.Context, realmID, refreshToken string) (*models.TokenGrant, error)
}

// Manager is the token store adapter used by the OAuth flow and the
// assessment service.
type Manager struct {
	store     store.Store
	refresher Refresher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	skew      time.Duration
	now       func() time.Time
	newID     func() string

	// refreshes collapses concurrent refreshes of one record.
	refreshes singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithExpirySkew overrides the default 300s expiry skew.
func WithExpirySkew(skew time.Duration) Option {
	return func(m *Manager) {
		if skew > 0 {
			m.skew = skew
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a token manager. refresher may be nil, in which case
// expired tokens cannot be renewed.
func NewManager(s store.Store, refresher Refresher, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		refresher: refresher,
		logger:    logging.Nop(),
		skew:      models.DefaultExpirySkew,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store persists a freshly issued record, superseding any active record
// for the same realm.
func (m *Manager) Store(ctx context.Context, rec *models.OAuthTokenRecord) (*models.OAuthTokenRecord, error) {
	if rec.ID == "" {
		rec.ID = m.newID()
	}
	superseded, err := m.store.SaveToken(ctx, rec)
	if err != nil {
		m.metrics.RecordTokenOperation("store", "failure")
		return nil, err
	}
	m.metrics.RecordTokenOperation("store", "success")

	if superseded > 0 {
		m.audit(ctx, logging.NewAuditEvent(logging.TokenSuperseded, "supersede", logging.StatusSuccess).
			WithUserID(rec.UserID).WithRealmID(rec.RealmID).
			WithDetails(map[string]interface{}{"superseded": superseded, "token_id": rec.ID}))
	}
	m.audit(ctx, logging.NewAuditEvent(logging.TokenConnected, "store", logging.StatusSuccess).
		WithUserID(rec.UserID).WithRealmID(rec.RealmID).
		WithDetails(map[string]interface{}{"token_id": rec.ID, "expires_at": rec.ExpiresAt}))

	return m.store.GetToken(ctx, rec.ID)
}

// GetActiveToken returns the user's most recently issued active record.
func (m *Manager) GetActiveToken(ctx context.Context, userID string) (*models.OAuthTokenRecord, error) {
	return m.GetActiveTokenForRealm(ctx, userID, "")
}

// GetActiveTokenForRealm returns the active record for one company, or
// the most recent one when realmID is empty.
func (m *Manager) GetActiveTokenForRealm(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error) {
	rec, err := m.store.GetActiveToken(ctx, userID, realmID)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, &errors.NoTokenFound{UserID: userID, RealmID: realmID}
	}
	return rec, err
}

// IsExpired reports whether rec is expired under the manager's skew.
func (m *Manager) IsExpired(rec *models.OAuthTokenRecord) bool {
	return rec.IsExpired(m.now(), m.skew)
}

// ValidToken returns an active, unexpired record, refreshing it first
// when it is expired.
func (m *Manager) ValidToken(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error) {
	rec, err := m.GetActiveTokenForRealm(ctx, userID, realmID)
	if err != nil {
		return nil, err
	}
	if !m.IsExpired(rec) {
		return rec, nil
	}
	return m.Refresh(ctx, rec)
}

// Refresh renews rec through the proxy. Concurrent calls for the same
// record share one proxy call. On invalid_grant the record is
// deactivated with reason invalid.
func (m *Manager) Refresh(ctx context.Context, rec *models.OAuthTokenRecord) (*models.OAuthTokenRecord, error) {
	if !rec.CanRefresh(m.now()) || m.refresher == nil {
		m.metrics.RecordTokenOperation("refresh", "unavailable")
		return nil, &errors.NoTokenFound{UserID: rec.UserID, RealmID: rec.RealmID}
	}

	// A caller giving up must not fail the others waiting on the same key.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.refreshes.Do(rec.ID, func() (interface{}, error) {
		return m.refresh(shared, rec)
	})
	if err != nil {
		return nil, err
	}
	c := *v.(*models.OAuthTokenRecord)
	return &c, nil
}

func (m *Manager) refresh(ctx context.Context, rec *models.OAuthTokenRecord) (*models.OAuthTokenRecord, error) {
	grant, err := m.refresher.RefreshToken(ctx, rec.RealmID, rec.RefreshToken)
	if err != nil {
		var provider *errors.ProviderError
		if stderrors.As(err, &provider) && provider.IsInvalidGrant() {
			m.metrics.RecordTokenOperation("refresh", "invalid_grant")
			if _, derr := m.store.DeactivateTokens(ctx, rec.UserID, rec.RealmID, models.ReasonInvalid); derr != nil {
				m.logger.ErrorWithContext(ctx, "failed to deactivate rejected token", "token_id", rec.ID, "error", derr.Error())
			}
			m.audit(ctx, logging.NewAuditEvent(logging.TokenDeactivated, "refresh", logging.StatusFailure).
				WithUserID(rec.UserID).WithRealmID(rec.RealmID).WithSeverity(logging.SeverityWarning).
				WithDetails(map[string]interface{}{"token_id": rec.ID, "reason": string(models.ReasonInvalid)}).
				WithError(provider.Error()))
			return nil, err
		}
		m.metrics.RecordTokenOperation("refresh", "failure")
		m.logger.WarnWithContext(ctx, "token refresh failed", "token_id", rec.ID, "realm_id", rec.RealmID, "error", err.Error())
		return nil, err
	}

	next := models.NewTokenRecord(rec.UserID, rec.RealmID, *grant, m.now())
	next.ID = m.newID()
	if next.RefreshToken == "" {
		next.RefreshToken = rec.RefreshToken
		next.RefreshExpiresAt = rec.RefreshExpiresAt
	}

	if err := m.store.ReplaceToken(ctx, rec.ID, next); err != nil {
		if stderrors.Is(err, store.ErrTokenNotActive) {
			// Another instance refreshed or superseded it first.
			m.metrics.RecordTokenOperation("refresh", "lost_race")
			return m.GetActiveTokenForRealm(ctx, rec.UserID, rec.RealmID)
		}
		m.metrics.RecordTokenOperation("refresh", "failure")
		return nil, err
	}

	m.metrics.RecordTokenOperation("refresh", "success")
	m.audit(ctx, logging.NewAuditEvent(logging.TokenRefreshed, "refresh", logging.StatusSuccess).
		WithUserID(rec.UserID).WithRealmID(rec.RealmID).
		WithDetails(map[string]interface{}{"previous_token_id": rec.ID, "token_id": next.ID}))

	return m.store.GetToken(ctx, next.ID)
}

// Deactivate marks one realm's record, or all of the user's records when
// realmID is empty, inactive with reason logout. Repeating it is a no-op.
func (m *Manager) Deactivate(ctx context.Context, userID, realmID string) (int, error) {
	n, err := m.store.DeactivateTokens(ctx, userID, realmID, models.ReasonLogout)
	if err != nil {
		m.metrics.RecordTokenOperation("deactivate", "failure")
		return 0, err
	}
	m.metrics.RecordTokenOperation("deactivate", "success")
	if n > 0 {
		m.audit(ctx, logging.NewAuditEvent(logging.TokenDeactivated, "deactivate", logging.StatusSuccess).
			WithUserID(userID).WithRealmID(realmID).
			WithDetails(map[string]interface{}{"count": n, "reason": string(models.ReasonLogout)}))
	}
	return n, nil
}

// Purge physically deletes records. It is the only path that removes
// credential history.
func (m *Manager) Purge(ctx context.Context, userID, realmID string) (int, error) {
	n, err := m.store.PurgeTokens(ctx, userID, realmID)
	if err != nil {
		m.metrics.RecordTokenOperation("purge", "failure")
		return 0, err
	}
	m.metrics.RecordTokenOperation("purge", "success")
	m.audit(ctx, logging.NewAuditEvent(logging.TokenPurged, "purge", logging.StatusSuccess).
		WithUserID(userID).WithRealmID(realmID).WithSeverity(logging.SeverityWarning).
		WithDetails(map[string]interface{}{"count": n}))
	return n, nil
}

// List returns the user's records with secrets redacted, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]*models.OAuthTokenRecord, error) {
	recs, err := m.store.ListTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.OAuthTokenRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Redacted())
	}
	return out, nil
}

func (m *Manager) audit(ctx context.Context, event *logging.AuditEvent) {
	m.logger.Audit(ctx, m.store, event)
}
