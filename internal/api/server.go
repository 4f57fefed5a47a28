package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bookhealth/bookhealth/internal/assessment"
	"github.com/bookhealth/bookhealth/internal/config"
	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/metrics"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/bookhealth/bookhealth/internal/progress"
	"github.com/gin-gonic/gin"
)

// Authorizer begins and completes the QuickBooks consent flow.
type Authorizer interface {
	BeginAuthorization(ctx context.Context, userID string) (string, error)
	CompleteAuthorization(ctx context.Context, userID string, params url.Values) (*models.OAuthTokenRecord, error)
}

// Connections manages a user's stored tokens.
type Connections interface {
	GetActiveTokenForRealm(ctx context.Context, userID, realmID string) (*models.OAuthTokenRecord, error)
	Deactivate(ctx context.Context, userID, realmID string) (int, error)
	Purge(ctx context.Context, userID, realmID string) (int, error)
}

// Assessor runs one assessment.
type Assessor interface {
	Run(ctx context.Context, req assessment.Request, observers ...progress.Observer) (*models.AssessmentResult, error)
}

// Dependencies are the services behind the routes. Circuit, when set,
// reports the proxy breaker state on /health. Closers are closed on
// shutdown after the listener stops.
type Dependencies struct {
	Authorizer  Authorizer
	Connections Connections
	Assessor    Assessor
	Circuit     func() string
	Closers     []io.Closer
}

// Server represents the HTTP API server
type Server struct {
	router          *gin.Engine
	config          config.ServerConfig
	apiConfig       config.APIConfig
	successRedirect string
	authz           Authorizer
	conns           Connections
	assessor        Assessor
	circuit         func() string
	closers         []io.Closer
	metrics         *metrics.Metrics
	logger          *logging.Logger
	rateLimiter     *IPRateLimiter
	httpServer      *http.Server

	callbackMu      sync.RWMutex
	callbackHandler func(*gin.Context)
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics shares a metrics registry with the other components.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSuccessRedirect sends the browser here after a completed callback
// instead of answering with JSON.
func WithSuccessRedirect(target string) Option {
	return func(s *Server) { s.successRedirect = target }
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server. apiCfg must already be validated.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, deps Dependencies, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	requestsPerMinute := apiCfg.RateLimit.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = 600
	}
	burst := apiCfg.RateLimit.Burst
	if burst <= 0 {
		burst = 50
	}

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		apiConfig:   apiCfg,
		authz:       deps.Authorizer,
		conns:       deps.Connections,
		assessor:    deps.Assessor,
		circuit:     deps.Circuit,
		closers:     deps.Closers,
		logger:      logging.Nop(),
		rateLimiter: newIPRateLimiter(time.Minute/time.Duration(requestsPerMinute), burst),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.metrics == nil {
		server.metrics = metrics.NewMetrics("bookhealth")
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(server.rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(server.metrics, server.logger))
	server.router.Use(loggingMiddleware(server.logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, correlationID := logging.EnsureCorrelationID(c.Request.Context(), c.GetHeader(logging.CorrelationIDHeader))
		c.Request = c.Request.WithContext(ctx)
		c.Header(logging.CorrelationIDHeader, correlationID)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// No authentication on health checks.
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	authMiddleware := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)
	userMiddleware := RequireUser(s.apiConfig.UserHeader)

	s.router.GET("/oauth/callback", authMiddleware, userMiddleware, s.handleOAuthCallback)

	base := s.apiConfig.BasePath
	if base == "" {
		base = "/api/v1"
	}
	group := s.router.Group(base)
	group.Use(authMiddleware, userMiddleware)
	{
		group.GET("/oauth/connect", s.handleConnect)
		group.GET("/connection", s.handleGetConnection)
		group.POST("/connection/disconnect", s.handleDisconnect)
		group.DELETE("/connection", s.handlePurge)
		group.POST("/assessments", s.handleAssessment)
	}
}

// Run listens until Shutdown is called. TLS is used when configured.
func (s *Server) Run() error {
	srv, err := buildHTTPServer(s.config, s.router)
	if err != nil {
		return &errors.ErrServerStart{Addr: fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort), Err: err}
	}
	s.httpServer = srv

	if srv.TLSConfig != nil {
		s.logger.Info("starting HTTPS server", "addr", srv.Addr, "min_version", s.config.TLS.MinVersion)
		return srv.ListenAndServeTLS("", "")
	}
	s.logger.Info("starting HTTP server", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// closes the dependencies.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var errList []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err.Error())
			errList = append(errList, &errors.ErrServerShutdown{Err: err})
		}
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, closer := range s.closers {
		if closer == nil {
			continue
		}
		wg.Add(1)
		go func(c io.Closer) {
			defer wg.Done()
			if err := c.Close(); err != nil {
				mu.Lock()
				errList = append(errList, fmt.Errorf("close: %w", err))
				mu.Unlock()
			}
		}(closer)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	if s.circuit != nil {
		body["proxy_circuit"] = s.circuit()
	}
	c.JSON(http.StatusOK, body)
}
