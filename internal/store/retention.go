package store

import (
	"context"
	"time"

	"github.com/bookhealth/bookhealth/internal/errors"
)

// Sweeper removes rows past their retention. Token records are not
// swept: only PurgeTokens deletes them.
type Sweeper interface {
	DeleteExpiredStates(ctx context.Context, now time.Time) (int64, error)
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Optimizer is implemented by stores that support offline maintenance.
type Optimizer interface {
	Vacuum(ctx context.Context) error
	Analyze(ctx context.Context) error
}

var (
	_ Sweeper   = (*SQLiteStore)(nil)
	_ Sweeper   = (*MemoryStore)(nil)
	_ Optimizer = (*SQLiteStore)(nil)
)

func (s *SQLiteStore) DeleteExpiredStates(ctx context.Context, now time.Time) (int64, error) {
	return s.deleteWhere(ctx, "sweep oauth states", `DELETE FROM oauth_states WHERE expires_at_unix <= ?`, now.Unix())
}

func (s *SQLiteStore) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(ctx, "sweep audit events", `DELETE FROM token_events WHERE timestamp < ?`, cutoff.UTC())
}

func (s *SQLiteStore) deleteWhere(ctx context.Context, op, query string, arg interface{}) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: op, Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Vacuum reclaims space left by deleted rows.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "vacuum", Err: err}
	}
	return nil
}

// Analyze refreshes query planner statistics.
func (s *SQLiteStore) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "analyze", Err: err}
	}
	return nil
}

func (s *MemoryStore) DeleteExpiredStates(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for value, st := range s.states {
		if st.Expired(now) {
			delete(s.states, value)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAuditEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	n := int64(len(s.events) - len(kept))
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = nil
	}
	s.events = kept
	return n, nil
}

// Redis states expire by TTL, so a split store only sweeps its base.

func (s *splitStore) DeleteExpiredStates(ctx context.Context, now time.Time) (int64, error) {
	if sw, ok := s.states.(Sweeper); ok {
		return sw.DeleteExpiredStates(ctx, now)
	}
	return 0, nil
}

func (s *splitStore) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if sw, ok := s.Store.(Sweeper); ok {
		return sw.DeleteAuditEventsBefore(ctx, cutoff)
	}
	return 0, nil
}
