package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/logging"
	"github.com/bookhealth/bookhealth/internal/proxy"
	"github.com/gin-gonic/gin"
)

const (
	// DefaultAPIKeyHeader is the default header name for API key authentication
	DefaultAPIKeyHeader = "X-API-Key"
	// DefaultUserHeader carries the upstream-authenticated user id.
	DefaultUserHeader = "X-User-ID"

	userIDKey = "user_id"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
	Retryable bool   `json:"retryable"`
}

// APIKeyAuth creates a middleware that validates API keys from the request header.
// If no API keys are configured, authentication is bypassed.
func APIKeyAuth(apiKeys []string, headerName string, logger *logging.Logger) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultAPIKeyHeader
	}

	if len(apiKeys) == 0 {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		apiKey := c.GetHeader(headerName)

		if apiKey == "" {
			logger.WarnWithContext(c.Request.Context(), "API authentication failed: missing API key",
				"header_name", headerName,
				"client_ip", c.ClientIP(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "unauthorized",
				Message: "API key is required. Provide it in the '" + headerName + "' header",
				Code:    http.StatusUnauthorized,
			})
			return
		}

		// Case-sensitive comparison.
		for _, key := range apiKeys {
			if apiKey == key {
				c.Set("authenticated", true)
				c.Next()
				return
			}
		}

		logger.WarnWithContext(c.Request.Context(), "API authentication failed: invalid API key",
			"header_name", headerName,
			"client_ip", c.ClientIP(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Invalid API key",
			Code:    http.StatusUnauthorized,
		})
	}
}

// RequireUser reads the user id set by the upstream identity layer.
func RequireUser(headerName string) gin.HandlerFunc {
	if headerName == "" {
		headerName = DefaultUserHeader
	}
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerName))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_user",
				Message: "The '" + headerName + "' header is required",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// MaskAPIKeys masks API keys for logging (shows only first 4 characters)
func MaskAPIKeys(keys []string) []string {
	masked := make([]string, len(keys))
	for i, key := range keys {
		if len(key) <= 4 {
			masked[i] = strings.Repeat("*", len(key))
		} else {
			masked[i] = key[:4] + strings.Repeat("*", len(key)-4)
		}
	}
	return masked
}

// errorStatus maps a domain error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	var (
		provider  *errors.ProviderError
		callback  *errors.MalformedCallback
		report    *errors.MalformedReport
		noToken   *errors.NoTokenFound
		csrf      *errors.CsrfStateMismatch
		invariant *errors.ScoringInvariantViolation
	)
	switch {
	case stderrors.As(err, &noToken):
		return http.StatusNotFound, "not_connected"
	case stderrors.As(err, &csrf):
		return http.StatusBadRequest, "invalid_state"
	case stderrors.As(err, &callback):
		return http.StatusBadRequest, "malformed_callback"
	case stderrors.As(err, &provider):
		if provider.Status == 0 {
			// Raised from the consent redirect, not from an upstream call.
			return http.StatusBadRequest, "authorization_denied"
		}
		return http.StatusBadGateway, "provider_error"
	case stderrors.As(err, &report):
		return http.StatusBadGateway, "malformed_report"
	case stderrors.As(err, &invariant):
		return http.StatusUnprocessableEntity, "scoring_invariant_violation"
	case stderrors.Is(err, errors.ErrStaleFetch):
		return http.StatusConflict, "stale_fetch"
	case stderrors.Is(err, proxy.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "proxy_unavailable"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func newErrorResponse(err error) (int, ErrorResponse) {
	status, code := errorStatus(err)
	return status, ErrorResponse{
		Error:     code,
		Message:   errors.UserMessage(err),
		Code:      status,
		Retryable: errors.IsUserRetryable(err),
	}
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	status, resp := newErrorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorWithContext(c.Request.Context(), op+" failed", "error", err.Error(), "code", resp.Error)
		s.metrics.RecordError(resp.Error, c.FullPath(), c.Request.Method)
	} else {
		s.logger.WarnWithContext(c.Request.Context(), op+" failed", "error", err.Error(), "code", resp.Error)
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    http.StatusBadRequest,
	})
}
