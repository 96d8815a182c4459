package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys written by Middleware for downstream handlers and for
// CSRFMiddleware, which exempts bearer-authenticated requests.
const (
	ctxUserID      = "cp_user_id"
	ctxAuthToken   = "cp_auth_token"
	ctxBearerLogin = "cp_bearer_login"
)

// Middleware authenticates the request from the Authorization header or,
// failing that, the auth cookie, and records the user on the gin context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, viaBearer := s.requestToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxAuthToken, token)
		c.Set(ctxBearerLogin, viaBearer)
		c.Next()
	}
}

// UserIDFromContext returns the user id recorded by Middleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// AuthTokenFromContext returns the token the request authenticated with,
// so logout can revoke exactly that token.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxAuthToken)
	if !ok {
		return "", false
	}
	token, ok := v.(string)
	return token, ok
}

// requestToken resolves the credential for a request. The bool reports
// whether it came from a bearer header rather than the cookie.
func (s *Service) requestToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(s.headerName)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:]), true
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token, false
	}
	return "", false
}
