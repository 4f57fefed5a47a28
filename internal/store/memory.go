package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
)

// MemoryStore provides an in-memory Store. It is thread-safe and is used
// by tests and by the offline CLI.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*models.OAuthTokenRecord // key: record ID
	states map[string]*models.OAuthState       // key: state value
	events []*logging.AuditEvent

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens: make(map[string]*models.OAuthTokenRecord),
		states: make(map[string]*models.OAuthState),
		now:    time.Now,
	}
}

// Token operations

func (s *MemoryStore) SaveToken(_ context.Context, rec *models.OAuthTokenRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	superseded := 0
	for _, existing := range s.tokens {
		if existing.Active && existing.RealmID == rec.RealmID {
			deactivate(existing, models.ReasonSuperseded, now)
			superseded++
		}
	}

	s.tokens[rec.ID] = insertable(rec, now)
	return superseded, nil
}

func (s *MemoryStore) ReplaceToken(_ context.Context, oldID string, next *models.OAuthTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.tokens[oldID]
	if !ok {
		return ErrNotFound
	}
	if !old.Active {
		return ErrTokenNotActive
	}

	now := s.now().UTC()
	deactivate(old, models.ReasonRefreshed, now)
	s.tokens[next.ID] = insertable(next, now)
	return nil
}

func (s *MemoryStore) GetActiveToken(_ context.Context, userID, realmID string) (*models.OAuthTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.OAuthTokenRecord
	for _, rec := range s.tokens {
		if !rec.Active || rec.UserID != userID {
			continue
		}
		if realmID != "" && rec.RealmID != realmID {
			continue
		}
		if best == nil || rec.IssuedAt.After(best.IssuedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	c := *best
	return &c, nil
}

func (s *MemoryStore) GetToken(_ context.Context, id string) (*models.OAuthTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MemoryStore) ListTokens(_ context.Context, userID string) ([]*models.OAuthTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.OAuthTokenRecord, 0)
	for _, rec := range s.tokens {
		if rec.UserID == userID {
			c := *rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].IssuedAt.After(out[j].IssuedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeactivateTokens(_ context.Context, userID, realmID string, reason models.DeactivationReason) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	n := 0
	for _, rec := range s.tokens {
		if !rec.Active || rec.UserID != userID {
			continue
		}
		if realmID != "" && rec.RealmID != realmID {
			continue
		}
		deactivate(rec, reason, now)
		n++
	}
	return n, nil
}

func (s *MemoryStore) PurgeTokens(_ context.Context, userID, realmID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.tokens {
		if rec.UserID != userID {
			continue
		}
		if realmID != "" && rec.RealmID != realmID {
			continue
		}
		delete(s.tokens, id)
		n++
	}
	return n, nil
}

// State operations

func (s *MemoryStore) SaveState(_ context.Context, state *models.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for value, st := range s.states {
		if st.Expired(now) {
			delete(s.states, value)
		}
	}
	c := *state
	s.states[state.Value] = &c
	return nil
}

func (s *MemoryStore) ConsumeState(_ context.Context, value string) (*models.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[value]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.states, value)
	return st, nil
}

// Audit operations

func (s *MemoryStore) RecordAudit(_ context.Context, event *logging.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *event
	s.events = append(s.events, &c)
	return nil
}

func (s *MemoryStore) ListAuditEvents(_ context.Context, userID string, limit int) ([]*logging.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*logging.AuditEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if userID != "" && s.events[i].UserID != userID {
			continue
		}
		out = append(out, s.events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func deactivate(rec *models.OAuthTokenRecord, reason models.DeactivationReason, now time.Time) {
	rec.Active = false
	rec.DeactivatedAt = &now
	rec.DeactivationReason = reason
	rec.UpdatedAt = now
}

// insertable returns a stored copy of rec marked active with timestamps set.
func insertable(rec *models.OAuthTokenRecord, now time.Time) *models.OAuthTokenRecord {
	c := *rec
	c.Active = true
	c.DeactivatedAt = nil
	c.DeactivationReason = ""
	if c.TokenType == "" {
		c.TokenType = "bearer"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return &c
}
