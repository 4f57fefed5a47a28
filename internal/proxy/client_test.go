package proxy

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.ProxyConfig {
	return config.ProxyConfig{
		BaseURL:     baseURL,
		ReportPath:  "/webhook/qbo-report",
		RefreshPath: "/webhook/qbo-refresh",
		APIKey:      "proxy-key",
		Timeout:     2 * time.Second,
		MaxRequests: 100,
		Interval:    time.Second,
		CircuitBreaker: config.CircuitBreakerConfig{
			FailureThreshold: 3,
			Timeout:          time.Minute,
		},
	}
}

func TestFetchReportSendsWireFormat(t *testing.T) {
	var got ReportRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/qbo-report", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "proxy-key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(` {"Header":{"ReportName":"TrialBalance"}} `))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	raw, err := c.FetchReport(context.Background(), ReportRequest{
		RealmID: "9130", AccessToken: "at", ReportType: models.ReportTrialBalance,
		StartDate: "2024-04-02", EndDate: "2024-06-30",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Header":{"ReportName":"TrialBalance"}}`, string(raw))

	assert.Equal(t, "9130", got.RealmID)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, models.ReportTrialBalance, got.ReportType)
	assert.Equal(t, "2024-04-02", got.StartDate)
	assert.Equal(t, "2024-06-30", got.EndDate)
}

func TestFetchReportFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "empty body", status: 200, body: "  ",
			check: func(t *testing.T, err error) { assert.True(t, stderrors.As(err, new(*errors.MalformedReport))) },
		},
		{
			name: "invalid json", status: 200, body: "<html>",
			check: func(t *testing.T, err error) { assert.True(t, stderrors.As(err, new(*errors.MalformedReport))) },
		},
		{
			name: "non 2xx", status: 502, body: "bad gateway",
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.True(t, stderrors.As(err, &se))
				assert.Equal(t, 502, se.Status)
			},
		},
		{
			name: "provider error", status: 401, body: `{"error":"invalid_token","error_description":"expired"}`,
			check: func(t *testing.T, err error) {
				var pe *errors.ProviderError
				require.True(t, stderrors.As(err, &pe))
				assert.Equal(t, "invalid_token", pe.Code)
				assert.Equal(t, 401, pe.Status)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(srv.URL)).FetchReport(context.Background(), ReportRequest{ReportType: models.ReportJournalEntries})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webhook/qbo-refresh", r.URL.Path)
		var body refreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.RefreshToken == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Incorrect Token type or clientID"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"new-at","refresh_token":"new-rt","expires_in":3600,"x_refresh_token_expires_in":8726400,"token_type":"bearer"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	grant, err := c.RefreshToken(context.Background(), "9130", "good")
	require.NoError(t, err)
	assert.Equal(t, "new-at", grant.AccessToken)
	assert.Equal(t, int64(8726400), grant.RefreshExpiresIn)

	_, err = c.RefreshToken(context.Background(), "9130", "revoked")
	var pe *errors.ProviderError
	require.True(t, stderrors.As(err, &pe))
	assert.True(t, pe.IsInvalidGrant())
}

func TestRetriesTransportFailuresOnly(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 2
	cfg.RetryDelay = time.Millisecond
	_, err := NewClient(cfg).FetchReport(context.Background(), ReportRequest{ReportType: models.ReportTrialBalance})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "HTTP status failures are not retried")

	// Closed server: connection refused is a transport failure.
	srv.Close()
	cfg.CircuitBreaker.FailureThreshold = 10
	_, err = NewClient(cfg).FetchReport(context.Background(), ReportRequest{ReportType: models.ReportTrialBalance})
	require.Error(t, err)
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	for i := 0; i < 3; i++ {
		_, _ = c.FetchReport(context.Background(), ReportRequest{ReportType: models.ReportTrialBalance})
	}
	assert.Equal(t, CircuitOpen, c.Breaker().State())

	_, err := c.FetchReport(context.Background(), ReportRequest{ReportType: models.ReportTrialBalance})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCircuitBreakerHalfOpenSingleTrial(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow(), "first trial allowed")
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial at a time")

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreakerReleaseFreesTrial(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute, nil)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	require.True(t, cb.Allow())
	require.False(t, cb.Allow())

	cb.Release()
	assert.Equal(t, CircuitHalfOpen, cb.State())
	assert.True(t, cb.Allow(), "released trial can be taken again")
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())

	// Release outside half-open changes nothing.
	cb.Release()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCancelledTrialDoesNotWedgeBreaker(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"Header":{}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CircuitBreaker.Timeout = 10 * time.Millisecond
	c := NewClient(cfg)
	req := ReportRequest{ReportType: models.ReportTrialBalance}

	for i := 0; i < 3; i++ {
		_, _ = c.FetchReport(context.Background(), req)
	}
	require.Equal(t, CircuitOpen, c.Breaker().State())

	time.Sleep(20 * time.Millisecond)
	healthy.Store(true)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchReport(cancelled, req)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, CircuitHalfOpen, c.Breaker().State())

	_, err = c.FetchReport(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, c.Breaker().State())
}
