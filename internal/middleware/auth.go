package middleware

import (
	"context"
	"net/http"
	"strings"

	"taskflow/backend/internal/apperrors"
	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/identity"

	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

// TokenParser verifies an access token. *identity.TokenIssuer implements it.
type TokenParser interface {
	Parse(ctx context.Context, token string) (*identity.SessionClaims, error)
}

// Authenticate turns a Bearer access token into an authz.Session and stores
// it on the gin context.
func Authenticate(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_token",
				"message": "Authorization header is required",
			})
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token_format",
				"message": "Authorization header must use Bearer token",
			})
			return
		}

		claims, err := parser.Parse(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortAuth(c, err)
			return
		}
		session, err := authz.NewSession(claims)
		if err != nil {
			abortAuth(c, err)
			return
		}

		SetSession(c, session)
		c.Next()
	}
}

func abortAuth(c *gin.Context, err error) {
	code, ok := apperrors.AuthCode(err)
	if !ok {
		code = apperrors.CodeInvalidToken
	}
	status := http.StatusUnauthorized
	if code == apperrors.CodeNetworkRequestFailed {
		status = http.StatusServiceUnavailable
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   code,
		"message": apperrors.Reason(code),
	})
}

// SetSession attaches session to the gin context.
func SetSession(c *gin.Context, session *authz.Session) {
	c.Set(sessionKey, session)
}

// SessionFrom returns the session set by Authenticate.
func SessionFrom(c *gin.Context) (*authz.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*authz.Session)
	return session, ok && session != nil
}
