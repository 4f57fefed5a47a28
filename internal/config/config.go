package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the complete application configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	OAuth      OAuthConfig      `yaml:"oauth"`
	Proxy      ProxyConfig      `yaml:"proxy"`
	Storage    StorageConfig    `yaml:"storage"`
	Assessment AssessmentConfig `yaml:"assessment"`
	Narrative  NarrativeConfig  `yaml:"narrative"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	MinVersion string `yaml:"min_version"` // "1.2" or "1.3"
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	BasePath   string          `yaml:"base_path"`
	Auth       AuthConfig      `yaml:"auth"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	UserHeader string          `yaml:"user_header"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// OAuthConfig describes the Intuit authorization request. The code
// exchange itself happens in the proxy, which redirects back to the
// callback with the token payload.
type OAuthConfig struct {
	ClientID        string        `yaml:"client_id"`
	AuthorizeURL    string        `yaml:"authorize_url"`
	RedirectURI     string        `yaml:"redirect_uri"`
	Scope           string        `yaml:"scope"`
	StateTTL        time.Duration `yaml:"state_ttl"`
	PayloadParam    string        `yaml:"payload_param"`
	SuccessRedirect string        `yaml:"success_redirect"`
}

// ProxyConfig contains the report proxy client configuration.
type ProxyConfig struct {
	BaseURL        string               `yaml:"base_url"`
	ReportPath     string               `yaml:"report_path"`
	RefreshPath    string               `yaml:"refresh_path"`
	APIKey         string               `yaml:"api_key"`
	Timeout        time.Duration        `yaml:"timeout"`
	MaxRequests    int                  `yaml:"max_requests"`
	Interval       time.Duration        `yaml:"interval"`
	MaxRetries     int                  `yaml:"max_retries"`
	RetryDelay     time.Duration        `yaml:"retry_delay"`
	Concurrency    int                  `yaml:"concurrency"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig contains circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// StateBackend is "store" (default, same backend as tokens) or "redis".
	StateBackend string        `yaml:"state_backend"`
	Redis        RedisConfig   `yaml:"redis"`
	Cleanup      CleanupConfig `yaml:"cleanup"`
}

// CleanupConfig controls the background retention sweep.
type CleanupConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	AuditRetention time.Duration `yaml:"audit_retention"`
	// Vacuum runs VACUUM and ANALYZE after a sweep that deleted rows.
	Vacuum bool `yaml:"vacuum"`
}

// RedisConfig contains Redis connection settings for the state backend.
type RedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	KeyPrefix string   `yaml:"key_prefix"`
}

// AssessmentConfig tunes normalization and scoring.
type AssessmentConfig struct {
	WindowDays             int           `yaml:"window_days"`
	ExpirySkew             time.Duration `yaml:"expiry_skew"`
	DuplicateNormalization string        `yaml:"duplicate_normalization"`
	// Tolerances are decimal strings to avoid float rounding.
	VarianceTolerance string        `yaml:"variance_tolerance"`
	AgingTolerance    string        `yaml:"aging_tolerance"`
	Scoring           ScoringConfig `yaml:"scoring"`
}

// ScoringConfig overrides the default pillar weights and readiness
// thresholds. Weights are basis points keyed by pillar name.
type ScoringConfig struct {
	Weights             map[string]int `yaml:"weights"`
	ReadyThreshold      int            `yaml:"ready_threshold"`
	MinorFixesThreshold int            `yaml:"minor_fixes_threshold"`
}

// NarrativeConfig configures the optional narrative generator.
type NarrativeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

var pillarNames = []string{"reconciliation", "chart_integrity", "categorization", "control_accounts", "aging"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.OAuth.Validate(); err != nil {
		return fmt.Errorf("oauth: %w", err)
	}

	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if err := c.Assessment.Validate(); err != nil {
		return fmt.Errorf("assessment: %w", err)
	}

	if err := c.Narrative.Validate(); err != nil {
		return fmt.Errorf("narrative: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	if s.TLS.Enabled {
		if s.TLS.CertFile == "" {
			return fmt.Errorf("tls cert_file is required when TLS is enabled")
		}
		if s.TLS.KeyFile == "" {
			return fmt.Errorf("tls key_file is required when TLS is enabled")
		}
		if s.TLS.MinVersion != "" && s.TLS.MinVersion != "1.2" && s.TLS.MinVersion != "1.3" {
			return fmt.Errorf("tls min_version must be either \"1.2\" or \"1.3\"")
		}
		if s.TLS.MinVersion == "" {
			s.TLS.MinVersion = "1.3"
		}
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/api/v1"
	}
	if a.UserHeader == "" {
		a.UserHeader = "X-User-ID"
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.RateLimit.RequestsPerMinute <= 0 {
		a.RateLimit.RequestsPerMinute = 600
	}
	if a.RateLimit.RequestsPerMinute > 100000 {
		a.RateLimit.RequestsPerMinute = 100000
	}
	if a.RateLimit.Burst <= 0 {
		a.RateLimit.Burst = 50
	}
	if a.RateLimit.Burst > 10000 {
		a.RateLimit.Burst = 10000
	}
	return nil
}

// Validate validates OAuth configuration. Missing client identity fails
// fast rather than producing a broken consent link.
func (o *OAuthConfig) Validate() error {
	if strings.TrimSpace(o.ClientID) == "" {
		return fmt.Errorf("client_id is required")
	}
	if o.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}
	if err := validateURL(o.RedirectURI); err != nil {
		return fmt.Errorf("redirect_uri: %w", err)
	}
	if strings.TrimSpace(o.Scope) == "" {
		return fmt.Errorf("scope is required")
	}
	if o.AuthorizeURL == "" {
		o.AuthorizeURL = "https://appcenter.intuit.com/connect/oauth2"
	}
	if err := validateURL(o.AuthorizeURL); err != nil {
		return fmt.Errorf("authorize_url: %w", err)
	}
	if o.StateTTL < 0 {
		return fmt.Errorf("state_ttl cannot be negative")
	}
	if o.StateTTL == 0 {
		o.StateTTL = 10 * time.Minute
	}
	if o.PayloadParam == "" {
		o.PayloadParam = "data"
	}
	return nil
}

// Validate validates proxy configuration.
func (p *ProxyConfig) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if err := validateURL(p.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")
	if p.ReportPath == "" {
		p.ReportPath = "/webhook/qbo-report"
	}
	if p.RefreshPath == "" {
		p.RefreshPath = "/webhook/qbo-refresh"
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be positive")
	}
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if p.RetryDelay < 0 {
		return fmt.Errorf("retry_delay cannot be negative")
	}
	if p.MaxRetries > 0 && p.RetryDelay == 0 {
		p.RetryDelay = time.Second
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 6
	}
	if p.CircuitBreaker.FailureThreshold <= 0 {
		p.CircuitBreaker.FailureThreshold = 5
	}
	if p.CircuitBreaker.Timeout <= 0 {
		p.CircuitBreaker.Timeout = 30 * time.Second
	}
	return nil
}

// Validate validates storage configuration.
func (s *StorageConfig) Validate() error {
	if s.Driver == "" {
		s.Driver = "sqlite"
	}
	if s.Driver != "sqlite" && s.Driver != "memory" {
		return fmt.Errorf("driver must be one of: sqlite, memory")
	}
	if s.Driver == "sqlite" && s.Path == "" {
		s.Path = "data/bookhealth.db"
	}
	if s.StateBackend == "" {
		s.StateBackend = "store"
	}
	switch s.StateBackend {
	case "store":
	case "redis":
		if len(s.Redis.Addrs) == 0 {
			return fmt.Errorf("redis: addrs is required when state_backend is redis")
		}
	default:
		return fmt.Errorf("state_backend must be one of: store, redis")
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = "bookhealth:oauth_state:"
	}
	if err := s.Cleanup.Validate(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// Validate applies retention defaults.
func (c *CleanupConfig) Validate() error {
	if c.Interval < 0 || c.AuditRetention < 0 {
		return fmt.Errorf("durations cannot be negative")
	}
	if c.Interval == 0 {
		c.Interval = time.Hour
	}
	if c.AuditRetention == 0 {
		c.AuditRetention = 90 * 24 * time.Hour
	}
	return nil
}

// Validate validates assessment configuration and applies defaults.
func (a *AssessmentConfig) Validate() error {
	if a.WindowDays == 0 {
		a.WindowDays = 90
	}
	if a.WindowDays < 1 || a.WindowDays > 365 {
		return fmt.Errorf("window_days must be between 1 and 365")
	}
	if a.ExpirySkew < 0 {
		return fmt.Errorf("expiry_skew cannot be negative")
	}
	if a.ExpirySkew == 0 {
		a.ExpirySkew = 300 * time.Second
	}
	switch a.DuplicateNormalization {
	case "":
		a.DuplicateNormalization = "trim_casefold"
	case "trim_casefold", "casefold", "exact":
	default:
		return fmt.Errorf("duplicate_normalization must be one of: trim_casefold, casefold, exact")
	}
	if a.VarianceTolerance == "" {
		a.VarianceTolerance = "0.01"
	}
	if a.AgingTolerance == "" {
		a.AgingTolerance = "0.05"
	}
	for name, v := range map[string]string{"variance_tolerance": a.VarianceTolerance, "aging_tolerance": a.AgingTolerance} {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if d.IsNegative() {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	if err := a.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	return nil
}

// Validate checks weight overrides. An empty weight map keeps the
// engine defaults; a partial map is rejected.
func (s *ScoringConfig) Validate() error {
	if len(s.Weights) > 0 {
		sum := 0
		for _, name := range pillarNames {
			w, ok := s.Weights[name]
			if !ok {
				return fmt.Errorf("weights: missing pillar %s", name)
			}
			if w < 0 {
				return fmt.Errorf("weights: %s cannot be negative", name)
			}
			sum += w
		}
		if len(s.Weights) != len(pillarNames) {
			return fmt.Errorf("weights: unknown pillar in %v", s.Weights)
		}
		if sum != 10000 {
			return fmt.Errorf("weights must sum to 10000 basis points, got %d", sum)
		}
	}
	if s.ReadyThreshold == 0 {
		s.ReadyThreshold = 85
	}
	if s.MinorFixesThreshold == 0 {
		s.MinorFixesThreshold = 70
	}
	if s.ReadyThreshold > 100 || s.MinorFixesThreshold < 0 {
		return fmt.Errorf("thresholds must be within [0, 100]")
	}
	if s.MinorFixesThreshold >= s.ReadyThreshold {
		return fmt.Errorf("minor_fixes_threshold must be below ready_threshold")
	}
	return nil
}

// Validate validates narrative configuration.
func (n *NarrativeConfig) Validate() error {
	if n.BaseURL == "" {
		n.BaseURL = "https://api.perplexity.ai"
	}
	if n.Model == "" {
		n.Model = "sonar"
	}
	if n.Timeout <= 0 {
		n.Timeout = 30 * time.Second
	}
	if !n.Enabled {
		return nil
	}
	if n.APIKey == "" {
		return fmt.Errorf("api_key is required when narrative is enabled")
	}
	return validateURL(n.BaseURL)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
