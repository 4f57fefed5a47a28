package models

import (
	"time"
)

// DefaultExpirySkew is how long before expiry a token is treated as expired.
const DefaultExpirySkew = 300 * time.Second

// DeactivationReason records why a token record stopped being active.
type DeactivationReason string

const (
	ReasonLogout     DeactivationReason = "logout"
	ReasonInvalid    DeactivationReason = "invalid"
	ReasonSuperseded DeactivationReason = "superseded"
	ReasonRefreshed  DeactivationReason = "refreshed"
)

// OAuthTokenRecord is one company's QuickBooks credential set.
//
// At most one record per realm is active at a time. A newer record for
// the same realm supersedes the previous one; records are deactivated
// rather than deleted unless the user purges them.
type OAuthTokenRecord struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	RealmID            string             `json:"realm_id"`
	AccessToken        string             `json:"access_token"`
	RefreshToken       string             `json:"refresh_token,omitempty"`
	TokenType          string             `json:"token_type"`
	IssuedAt           time.Time          `json:"issued_at"`
	ExpiresAt          time.Time          `json:"expires_at"`
	RefreshExpiresAt   *time.Time         `json:"refresh_expires_at,omitempty"`
	Active             bool               `json:"active"`
	DeactivatedAt      *time.Time         `json:"deactivated_at,omitempty"`
	DeactivationReason DeactivationReason `json:"deactivation_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsExpired reports whether now >= ExpiresAt - skew. A zero expiry is
// always expired.
func (r *OAuthTokenRecord) IsExpired(now time.Time, skew time.Duration) bool {
	if r == nil || r.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(r.ExpiresAt.Add(-skew))
}

// CanRefresh reports whether the record carries a usable refresh token.
func (r *OAuthTokenRecord) CanRefresh(now time.Time) bool {
	if r == nil || r.RefreshToken == "" {
		return false
	}
	if r.RefreshExpiresAt != nil && !now.Before(*r.RefreshExpiresAt) {
		return false
	}
	return true
}

// Redacted returns a copy without secret values, safe to serialize.
func (r *OAuthTokenRecord) Redacted() *OAuthTokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	if c.AccessToken != "" {
		c.AccessToken = "[REDACTED]"
	}
	if c.RefreshToken != "" {
		c.RefreshToken = "[REDACTED]"
	}
	return &c
}

// OAuthState is a pending authorization request awaiting its callback.
type OAuthState struct {
	Value     string    `json:"value"`
	UserID    string    `json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the state can no longer be redeemed.
func (s *OAuthState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Default lifetimes applied when a grant omits them.
const (
	DefaultAccessTokenLifetime  = time.Hour
	DefaultRefreshTokenLifetime = 100 * 24 * time.Hour
)

// TokenGrant is a freshly issued credential set as returned by the proxy,
// either in the authorization callback or from a refresh.
type TokenGrant struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshExpiresIn int64  `json:"x_refresh_token_expires_in,omitempty"`
}

// NewTokenRecord builds an active record for the grant issued at now.
// The caller assigns the ID.
func NewTokenRecord(userID, realmID string, grant TokenGrant, now time.Time) *OAuthTokenRecord {
	now = now.UTC()
	lifetime := DefaultAccessTokenLifetime
	if grant.ExpiresIn > 0 {
		lifetime = time.Duration(grant.ExpiresIn) * time.Second
	}
	rec := &OAuthTokenRecord{
		UserID:       userID,
		RealmID:      realmID,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		TokenType:    grant.TokenType,
		IssuedAt:     now,
		ExpiresAt:    now.Add(lifetime),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.TokenType == "" {
		rec.TokenType = "bearer"
	}
	if grant.RefreshToken != "" {
		refreshLifetime := DefaultRefreshTokenLifetime
		if grant.RefreshExpiresIn > 0 {
			refreshLifetime = time.Duration(grant.RefreshExpiresIn) * time.Second
		}
		exp := now.Add(refreshLifetime)
		rec.RefreshExpiresAt = &exp
	}
	return rec
}
