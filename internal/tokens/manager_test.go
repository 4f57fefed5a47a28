package tokens

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   atomic.Int32
	grant   *models.TokenGrant
	err     error
	release chan struct{}
}

func (f *fakeRefresher) RefreshToken(_ context.Context, _, _ string) (*models.TokenGrant, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	g := *f.grant
	return &g, nil
}

func newManager(t *testing.T, r Refresher, now time.Time) (*Manager, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	ids := 0
	m := NewManager(s, r, WithClock(func() time.Time { return now }))
	m.newID = func() string {
		ids++
		return "tok-" + string(rune('a'+ids-1))
	}
	return m, s
}

func seed(t *testing.T, m *Manager, userID, realmID string, issued time.Time) *models.OAuthTokenRecord {
	t.Helper()
	rec := models.NewTokenRecord(userID, realmID, models.TokenGrant{AccessToken: "at", RefreshToken: "rt"}, issued)
	stored, err := m.Store(context.Background(), rec)
	require.NoError(t, err)
	return stored
}

func TestStoreSupersedesAndAudits(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m, s := newManager(t, nil, now)
	ctx := context.Background()

	first := seed(t, m, "u1", "r1", now)
	second := seed(t, m, "u1", "r1", now.Add(time.Minute))

	active, err := m.GetActiveToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	old, err := s.GetToken(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonSuperseded, old.DeactivationReason)

	events, err := s.ListAuditEvents(ctx, "u1", 0)
	require.NoError(t, err)
	types := make([]logging.AuditEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, logging.TokenSuperseded)
	assert.Contains(t, types, logging.TokenConnected)
}

func TestGetActiveTokenNoTokenFound(t *testing.T) {
	m, _ := newManager(t, nil, time.Now())
	_, err := m.GetActiveToken(context.Background(), "nobody")

	var noToken *errors.NoTokenFound
	require.True(t, stderrors.As(err, &noToken))
	assert.Equal(t, "nobody", noToken.UserID)
}

func TestValidTokenReturnsUnexpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeRefresher{grant: &models.TokenGrant{AccessToken: "new"}}
	m, _ := newManager(t, r, now)
	seeded := seed(t, m, "u1", "r1", now)

	rec, err := m.ValidToken(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, rec.ID)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestValidTokenRefreshesWithinSkew(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	// 56 minutes later the hour-long token is inside the 300s skew.
	now := issued.Add(56 * time.Minute)
	r := &fakeRefresher{grant: &models.TokenGrant{AccessToken: "new-at", ExpiresIn: 3600}}
	m, s := newManager(t, r, now)
	old := seed(t, m, "u1", "r1", issued)

	rec, err := m.ValidToken(context.Background(), "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "new-at", rec.AccessToken)
	assert.Equal(t, "rt", rec.RefreshToken, "old refresh token kept when none returned")
	assert.True(t, rec.Active)

	prev, err := s.GetToken(context.Background(), old.ID)
	require.NoError(t, err)
	assert.False(t, prev.Active)
	assert.Equal(t, models.ReasonRefreshed, prev.DeactivationReason)

	all, err := s.ListTokens(context.Background(), "u1")
	require.NoError(t, err)
	activeCount := 0
	for _, r := range all {
		if r.Active {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestConcurrentRefreshCollapses(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeRefresher{grant: &models.TokenGrant{AccessToken: "new-at", RefreshToken: "new-rt"}, release: make(chan struct{})}
	m, _ := newManager(t, r, issued.Add(2*time.Hour))
	old := seed(t, m, "u1", "r1", issued)

	var wg sync.WaitGroup
	results := make([]*models.OAuthTokenRecord, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := m.Refresh(context.Background(), old)
			assert.NoError(t, err)
			results[i] = rec
		}(i)
	}
	// Give the goroutines time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for _, rec := range results {
		require.NotNil(t, rec)
		assert.Equal(t, results[0].ID, rec.ID)
	}
}

func TestRefreshInvalidGrantDeactivates(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeRefresher{err: &errors.ProviderError{Code: "invalid_grant", Description: "Token invalid", Status: 400}}
	m, s := newManager(t, r, issued.Add(2*time.Hour))
	old := seed(t, m, "u1", "r1", issued)

	_, err := m.ValidToken(context.Background(), "u1", "r1")
	var provider *errors.ProviderError
	require.True(t, stderrors.As(err, &provider))
	assert.True(t, provider.IsInvalidGrant())

	rec, err := s.GetToken(context.Background(), old.ID)
	require.NoError(t, err)
	assert.False(t, rec.Active)
	assert.Equal(t, models.ReasonInvalid, rec.DeactivationReason)

	_, err = m.GetActiveToken(context.Background(), "u1")
	assert.True(t, stderrors.As(err, new(*errors.NoTokenFound)))
}

func TestRefreshTransientErrorKeepsRecord(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeRefresher{err: stderrors.New("connection reset")}
	m, _ := newManager(t, r, issued.Add(2*time.Hour))
	old := seed(t, m, "u1", "r1", issued)

	_, err := m.Refresh(context.Background(), old)
	require.Error(t, err)

	rec, err := m.GetActiveToken(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, old.ID, rec.ID)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := &fakeRefresher{grant: &models.TokenGrant{AccessToken: "x"}}
	m, _ := newManager(t, r, issued.Add(2*time.Hour))
	_, err := m.Store(context.Background(), models.NewTokenRecord("u1", "r1", models.TokenGrant{AccessToken: "at"}, issued))
	require.NoError(t, err)

	_, err = m.ValidToken(context.Background(), "u1", "r1")
	assert.True(t, stderrors.As(err, new(*errors.NoTokenFound)))
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestDeactivateIsIdempotent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m, _ := newManager(t, nil, now)
	ctx := context.Background()
	seed(t, m, "u1", "r1", now)
	seed(t, m, "u1", "r2", now)

	n, err := m.Deactivate(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Deactivate(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = m.Deactivate(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := m.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, rec := range list {
		assert.Equal(t, logging.RedactedValue, rec.AccessToken)
		assert.Equal(t, models.ReasonLogout, rec.DeactivationReason)
	}

	n, err = m.Purge(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
