package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/store"
)

// Target names one kind of row the sweep removes.
type Target string

const (
	TargetOAuthStates Target = "oauth_states"
	TargetAuditEvents Target = "audit_events"
)

// RetentionPolicy defines how long rows of one target are kept. Expired
// OAuth states have no retention period: they are removed once past
// their expiry.
type RetentionPolicy struct {
	Target          Target        `json:"target"`
	RetentionPeriod time.Duration `json:"retention_period"`
	Enabled         bool          `json:"enabled"`
}

// Validate validates the retention policy configuration.
func (p *RetentionPolicy) Validate() error {
	switch p.Target {
	case TargetOAuthStates:
		return nil
	case TargetAuditEvents:
	default:
		return fmt.Errorf("unknown target %q", p.Target)
	}
	if p.RetentionPeriod <= 0 {
		return fmt.Errorf("%s: retention_period must be positive", p.Target)
	}
	return nil
}

// PoliciesFromConfig builds the policy set for the configured retention.
func PoliciesFromConfig(cfg config.CleanupConfig) []RetentionPolicy {
	return []RetentionPolicy{
		{Target: TargetOAuthStates, Enabled: true},
		{Target: TargetAuditEvents, RetentionPeriod: cfg.AuditRetention, Enabled: cfg.AuditRetention > 0},
	}
}

// apply runs one policy against s.
func (p RetentionPolicy) apply(ctx context.Context, s store.Sweeper, now time.Time) (int64, error) {
	switch p.Target {
	case TargetOAuthStates:
		return s.DeleteExpiredStates(ctx, now)
	case TargetAuditEvents:
		return s.DeleteAuditEventsBefore(ctx, now.Add(-p.RetentionPeriod))
	}
	return 0, fmt.Errorf("unknown target %q", p.Target)
}
