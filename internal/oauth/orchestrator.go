// Package oauth drives the QuickBooks authorization flow. The proxy
// performs the code exchange and redirects back with the token payload.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/store"
)

const stateBytes = 32

// TokenSink stores a freshly issued record.
type TokenSink interface {
	Store(ctx context.Context, rec *models.OAuthTokenRecord) (*models.OAuthTokenRecord, error)
}

// Orchestrator begins and completes authorizations.
type Orchestrator struct {
	cfg    config.OAuthConfig
	states store.StateStore
	tokens TokenSink
	audit  logging.AuditSink
	logger *logging.Logger
	now    func() time.Time
	random func([]byte) (int, error)
}

// NewOrchestrator creates an orchestrator. audit may be nil.
func NewOrchestrator(cfg config.OAuthConfig, states store.StateStore, tokens TokenSink, audit logging.AuditSink, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Orchestrator{
		cfg:    cfg,
		states: states,
		tokens: tokens,
		audit:  audit,
		logger: logger.With("component", "oauth"),
		now:    time.Now,
		random: rand.Read,
	}
}

// BeginAuthorization creates a single-use state for userID and returns the
// consent URL the user should be sent to.
func (o *Orchestrator) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}

	buf := make([]byte, stateBytes)
	if _, err := o.random(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	now := o.now().UTC()
	state := &models.OAuthState{
		Value:     base64.RawURLEncoding.EncodeToString(buf),
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(o.cfg.StateTTL),
	}
	if err := o.states.SaveState(ctx, state); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", o.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", o.cfg.Scope)
	q.Set("redirect_uri", o.cfg.RedirectURI)
	q.Set("state", state.Value)

	sep := "?"
	if strings.Contains(o.cfg.AuthorizeURL, "?") {
		sep = "&"
	}

	o.logger.Audit(ctx, o.audit, logging.NewAuditEvent(logging.AuthorizationStarted, "begin", logging.StatusSuccess).
		WithUserID(userID))

	return o.cfg.AuthorizeURL + sep + q.Encode(), nil
}

// callbackPayload is the JSON the proxy embeds in the redirect.
type callbackPayload struct {
	models.TokenGrant
	RealmID   string `json:"realm_id"`
	RealmIDQB string `json:"realmId"`
	CompanyID string `json:"company_id"`
}

func (p *callbackPayload) realm() string {
	for _, v := range []string{p.RealmIDQB, p.RealmID, p.CompanyID} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// CompleteAuthorization verifies the callback state and stores the token
// carried in the payload parameter.
//
// The state is checked before the payload is parsed. A provider error
// parameter is reported as ProviderError even when the state is bad, so
// the user sees the consent failure they caused.
func (o *Orchestrator) CompleteAuthorization(ctx context.Context, userID string, params url.Values) (*models.OAuthTokenRecord, error) {
	if code := params.Get("error"); code != "" {
		perr := &errors.ProviderError{Code: code, Description: params.Get("error_description")}
		// The state is still spent so it cannot be replayed.
		if v := params.Get("state"); v != "" {
			_, _ = o.states.ConsumeState(ctx, v)
		}
		o.reject(ctx, userID, "provider_error", perr)
		return nil, perr
	}

	if err := o.verifyState(ctx, userID, params.Get("state")); err != nil {
		o.reject(ctx, userID, "state", err)
		return nil, err
	}

	raw := params.Get(o.cfg.PayloadParam)
	if raw == "" {
		err := &errors.MalformedCallback{Reason: "missing " + o.cfg.PayloadParam + " parameter"}
		o.reject(ctx, userID, "payload", err)
		return nil, err
	}
	// url.Values are already decoded once; tolerate a second encoding.
	if strings.HasPrefix(raw, "%7B") || strings.HasPrefix(raw, "%7b") {
		if dec, err := url.QueryUnescape(raw); err == nil {
			raw = dec
		}
	}

	var payload callbackPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		o.logger.WarnWithContext(ctx, "undecodable oauth callback payload", "user_id", userID, "payload_length", len(raw))
		err := &errors.MalformedCallback{Reason: "payload is not valid JSON", Err: err}
		o.reject(ctx, userID, "payload", err)
		return nil, err
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		err := &errors.MalformedCallback{Reason: "access_token is empty"}
		o.logPayload(ctx, userID, &payload)
		o.reject(ctx, userID, "payload", err)
		return nil, err
	}
	realmID := payload.realm()
	if realmID == "" {
		err := &errors.MalformedCallback{Reason: "realm id is empty"}
		o.logPayload(ctx, userID, &payload)
		o.reject(ctx, userID, "payload", err)
		return nil, err
	}

	rec := models.NewTokenRecord(userID, realmID, payload.TokenGrant, o.now())
	return o.tokens.Store(ctx, rec)
}

func (o *Orchestrator) verifyState(ctx context.Context, userID, value string) error {
	if value == "" {
		return &errors.CsrfStateMismatch{Reason: "state parameter missing"}
	}
	st, err := o.states.ConsumeState(ctx, value)
	if stderrors.Is(err, store.ErrNotFound) {
		return &errors.CsrfStateMismatch{Reason: "state unknown or already used"}
	}
	if err != nil {
		return err
	}
	if st.Expired(o.now()) {
		return &errors.CsrfStateMismatch{Reason: "state expired"}
	}
	if st.UserID != userID {
		return &errors.CsrfStateMismatch{Reason: "state issued to a different user"}
	}
	return nil
}

func (o *Orchestrator) logPayload(ctx context.Context, userID string, p *callbackPayload) {
	o.logger.WarnWithContext(ctx, "incomplete oauth callback payload",
		"user_id", userID,
		"access_token", p.AccessToken,
		"refresh_token", p.RefreshToken,
		"realm_id", p.realm(),
		"token_type", p.TokenType,
		"expires_in", p.ExpiresIn,
	)
}

func (o *Orchestrator) reject(ctx context.Context, userID, stage string, err error) {
	o.logger.Audit(ctx, o.audit, logging.NewAuditEvent(logging.AuthorizationRejected, "complete", logging.StatusFailure).
		WithUserID(userID).WithSeverity(logging.SeverityWarning).
		WithDetails(map[string]interface{}{"stage": stage}).
		WithError(err.Error()))
}
