package api

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/bookhealth/bookhealth/internal/errors"
	"github.com/bookhealth/bookhealth/internal/models"
	"github.com/gin-gonic/gin"
)

// ConnectResponse carries the consent URL.
type ConnectResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// ConnectionResponse describes the user's active connection. Token never
// carries secret values.
type ConnectionResponse struct {
	Connected bool                     `json:"connected"`
	Token     *models.OAuthTokenRecord `json:"token,omitempty"`
}

// ConnectionRequest selects one company; empty means all of them.
type ConnectionRequest struct {
	RealmID string `json:"realm_id"`
}

// ConnectionChangeResponse reports how many records were touched.
type ConnectionChangeResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records"`
}

func (s *Server) handleConnect(c *gin.Context) {
	if s.authz == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "oauth is not configured", "status": "not_configured"})
		return
	}
	target, err := s.authz.BeginAuthorization(c.Request.Context(), UserID(c))
	if err != nil {
		s.writeError(c, "begin authorization", err)
		return
	}
	c.JSON(http.StatusOK, ConnectResponse{AuthorizationURL: target})
}

func (s *Server) handleGetConnection(c *gin.Context) {
	rec, err := s.conns.GetActiveTokenForRealm(c.Request.Context(), UserID(c), c.Query("realm_id"))
	var noToken *errors.NoTokenFound
	if stderrors.As(err, &noToken) {
		c.JSON(http.StatusOK, ConnectionResponse{Connected: false})
		return
	}
	if err != nil {
		s.writeError(c, "get connection", err)
		return
	}
	c.JSON(http.StatusOK, ConnectionResponse{Connected: true, Token: rec.Redacted()})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	req, ok := bindConnection(c)
	if !ok {
		return
	}
	n, err := s.conns.Deactivate(c.Request.Context(), UserID(c), req.RealmID)
	if err != nil {
		s.writeError(c, "disconnect", err)
		return
	}
	c.JSON(http.StatusOK, ConnectionChangeResponse{Status: "disconnected", Records: n})
}

func (s *Server) handlePurge(c *gin.Context) {
	req, ok := bindConnection(c)
	if !ok {
		return
	}
	n, err := s.conns.Purge(c.Request.Context(), UserID(c), req.RealmID)
	if err != nil {
		s.writeError(c, "purge connection", err)
		return
	}
	c.JSON(http.StatusOK, ConnectionChangeResponse{Status: "purged", Records: n})
}

// bindConnection accepts the realm from the body or the query string. An
// empty body is allowed.
func bindConnection(c *gin.Context) (ConnectionRequest, bool) {
	var req ConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		badRequest(c, "request body must be a JSON object")
		return req, false
	}
	if req.RealmID == "" {
		req.RealmID = c.Query("realm_id")
	}
	return req, true
}
