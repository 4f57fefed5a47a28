package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetOAuthCallbackHandler replaces the callback handler at runtime. A nil
// handler restores the built-in one.
func (s *Server) SetOAuthCallbackHandler(handler func(*gin.Context)) {
	s.callbackMu.Lock()
	defer s.callbackMu.Unlock()
	s.callbackHandler = handler
}

func (s *Server) getOAuthCallbackHandler() func(*gin.Context) {
	s.callbackMu.RLock()
	defer s.callbackMu.RUnlock()
	return s.callbackHandler
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	if handler := s.getOAuthCallbackHandler(); handler != nil {
		handler(c)
		return
	}
	if s.authz == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "oauth callback handler is not configured",
			"status": "not_configured",
		})
		return
	}
	s.completeAuthorization(c)
}

func (s *Server) completeAuthorization(c *gin.Context) {
	rec, err := s.authz.CompleteAuthorization(c.Request.Context(), UserID(c), c.Request.URL.Query())
	if err != nil {
		s.writeError(c, "complete authorization", err)
		return
	}
	if s.successRedirect != "" {
		c.Redirect(http.StatusFound, s.successRedirect)
		return
	}
	c.JSON(http.StatusOK, ConnectionResponse{Connected: true, Token: rec.Redacted()})
}
