// Package proxy is the HTTP client for the automation proxy that talks to
// QuickBooks on our behalf: report fetches and token refreshes.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/models"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds a single report payload.
const maxBodyBytes = 32 << 20

// ErrCircuitOpen is returned without calling the proxy while the breaker
// is open.
var ErrCircuitOpen = stderrors.New("proxy circuit breaker is open")

// StatusError is a non-2xx proxy response that carried no provider error.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("proxy %s returned status %d", e.Endpoint, e.Status)
}

// ReportRequest is the body of a report fetch call.
type ReportRequest struct {
	RealmID     string            `json:"realm_id"`
	AccessToken string            `json:"access_token"`
	ReportType  models.ReportType `json:"report_type"`
	StartDate   string            `json:"start_date"`
	EndDate     string            `json:"end_date"`
}

type refreshRequest struct {
	RealmID      string `json:"realm_id"`
	RefreshToken string `json:"refresh_token"`
}

type providerBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client calls the proxy. It is safe for concurrent use.
type Client struct {
	cfg     config.ProxyConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a proxy client. cfg must already be validated.
func NewClient(cfg config.ProxyConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logging.Nop(),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	every := cfg.Interval / time.Duration(cfg.MaxRequests)
	c.limiter = rate.NewLimiter(rate.Every(every), cfg.MaxRequests)
	c.breaker = NewCircuitBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.Timeout, c.metrics)
	c.breaker.logger = c.logger.With("component", "proxy_breaker")
	return c
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// FetchReport retrieves one raw report. The payload is returned only when
// it is non-empty valid JSON.
func (c *Client) FetchReport(ctx context.Context, req ReportRequest) (json.RawMessage, error) {
	status, body, err := c.post(ctx, "report", c.cfg.ReportPath, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, statusError("report", status, body)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &errors.MalformedReport{Report: string(req.ReportType), Reason: "empty response body"}
	}
	if !json.Valid(trimmed) {
		return nil, &errors.MalformedReport{Report: string(req.ReportType), Reason: "response is not valid JSON"}
	}
	// A 2xx carrying an OAuth error body is still a provider failure.
	var pb providerBody
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &pb) == nil && pb.Error != "" {
		return nil, &errors.ProviderError{Code: pb.Error, Description: pb.ErrorDescription, Status: status}
	}
	return json.RawMessage(trimmed), nil
}

// RefreshToken implements tokens.Refresher.
func (c *Client) RefreshToken(ctx context.Context, realmID, refreshToken string) (*models.TokenGrant, error) {
	status, body, err := c.post(ctx, "refresh", c.cfg.RefreshPath, refreshRequest{RealmID: realmID, RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	var pb providerBody
	_ = json.Unmarshal(body, &pb)
	if pb.Error != "" {
		return nil, &errors.ProviderError{Code: pb.Error, Description: pb.ErrorDescription, Status: status}
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Endpoint: "refresh", Status: status}
	}

	var grant models.TokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, &errors.MalformedCallback{Reason: "refresh response is not valid JSON", Err: err}
	}
	if strings.TrimSpace(grant.AccessToken) == "" {
		return nil, &errors.MalformedCallback{Reason: "refresh response has no access_token"}
	}
	return &grant, nil
}

// post sends a JSON body, retrying transport failures only.
func (c *Client) post(ctx context.Context, endpoint, path string, payload interface{}) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}

		status, body, err := c.do(ctx, endpoint, path, data)
		if err == nil {
			return status, body, nil
		}
		if stderrors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			return 0, nil, err
		}
		lastErr = err
		c.logger.WarnWithContext(ctx, "proxy request failed", "endpoint", endpoint, "attempt", attempt+1, "error", err.Error())
	}
	return 0, nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint, path string, data []byte) (int, []byte, error) {
	if !c.breaker.Allow() {
		c.metrics.RecordProxyRequest(endpoint, "circuit_open")
		return 0, nil, ErrCircuitOpen
	}

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.Release()
		return 0, nil, err
	}
	c.metrics.RecordProxyThrottleWait(time.Since(start).Seconds())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		c.breaker.Release()
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}
	if id := logging.GetCorrelationID(ctx); id != "" {
		req.Header.Set(logging.CorrelationIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil && ctx.Err() != nil {
		// The caller went away; that says nothing about the proxy.
		c.breaker.Release()
		c.metrics.RecordProxyRequest(endpoint, "cancelled")
		return 0, nil, err
	}
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordProxyRequest(endpoint, "transport_error")
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil && ctx.Err() != nil {
		c.breaker.Release()
		c.metrics.RecordProxyRequest(endpoint, "cancelled")
		return 0, nil, err
	}
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordProxyRequest(endpoint, "transport_error")
		return 0, nil, err
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
		c.metrics.RecordProxyRequest(endpoint, "server_error")
	} else {
		c.breaker.RecordSuccess()
		c.metrics.RecordProxyRequest(endpoint, "success")
	}
	return resp.StatusCode, body, nil
}

func statusError(endpoint string, status int, body []byte) error {
	var pb providerBody
	if json.Unmarshal(body, &pb) == nil && pb.Error != "" {
		return &errors.ProviderError{Code: pb.Error, Description: pb.ErrorDescription, Status: status}
	}
	return &StatusError{Endpoint: endpoint, Status: status}
}
