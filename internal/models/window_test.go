package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDateWindow(t *testing.T) {
	asOf := time.Date(2024, 6, 30, 15, 4, 5, 0, time.UTC)

	w, err := NewDateWindow(0, asOf)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowDays, w.Days)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, "2024-04-02", w.StartDate())
	assert.Equal(t, "2024-06-30", w.EndDate())
	assert.Equal(t, 90, DaysBetween(w.Start, w.End))
}

func TestNewDateWindowBounds(t *testing.T) {
	asOf := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	for _, days := range []int{1, 365} {
		w, err := NewDateWindow(days, asOf)
		require.NoError(t, err)
		assert.Equal(t, days, DaysBetween(w.Start, w.End))
	}
	for _, days := range []int{-1, 366, 1000} {
		_, err := NewDateWindow(days, asOf)
		assert.Error(t, err, "days=%d", days)
	}
}

func TestDateWindowContainsIsHalfOpen(t *testing.T) {
	w, err := NewDateWindow(30, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.LastDay().Add(23*time.Hour)))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Second)))
}

func TestTokenIsExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := &OAuthTokenRecord{ExpiresAt: now.Add(10 * time.Minute)}

	assert.False(t, rec.IsExpired(now, DefaultExpirySkew))
	assert.True(t, rec.IsExpired(now.Add(5*time.Minute), DefaultExpirySkew), "now == expiry - skew counts as expired")
	assert.True(t, rec.IsExpired(now.Add(11*time.Minute), 0))
	assert.True(t, (&OAuthTokenRecord{}).IsExpired(now, 0))
}

func TestTokenCanRefreshAndRedacted(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	rec := &OAuthTokenRecord{AccessToken: "a", RefreshToken: "r"}
	assert.True(t, rec.CanRefresh(now))

	rec.RefreshExpiresAt = &past
	assert.False(t, rec.CanRefresh(now))

	red := rec.Redacted()
	assert.Equal(t, "[REDACTED]", red.AccessToken)
	assert.Equal(t, "r", rec.RefreshToken, "original must not be modified")
}

func TestNewTokenRecordDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := NewTokenRecord("u1", "r1", TokenGrant{AccessToken: "a"}, now)
	assert.Equal(t, "bearer", rec.TokenType)
	assert.Equal(t, now.Add(time.Hour), rec.ExpiresAt)
	assert.Nil(t, rec.RefreshExpiresAt)
	assert.False(t, rec.CanRefresh(now))

	rec = NewTokenRecord("u1", "r1", TokenGrant{AccessToken: "a", RefreshToken: "r", ExpiresIn: 600, RefreshExpiresIn: 86400, TokenType: "Bearer"}, now)
	assert.Equal(t, "Bearer", rec.TokenType)
	assert.Equal(t, now.Add(10*time.Minute), rec.ExpiresAt)
	require.NotNil(t, rec.RefreshExpiresAt)
	assert.Equal(t, now.Add(24*time.Hour), *rec.RefreshExpiresAt)
	assert.True(t, rec.Active)
}
