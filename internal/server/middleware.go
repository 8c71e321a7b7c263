package server

import (
	"crop-bidding/internal/biddingerrors"
	"crop-bidding/internal/models"
	"crop-bidding/services/bidding/helpers"
	"crop-bidding/utils"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	utils.Info("HTTP Request", map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	})
}

// TokenStore resolves bearer tokens to identities
type TokenStore map[string]models.Identity

// AuthMiddleware rejects requests without a known bearer token. Event streams
// may pass the token as the access_token query parameter instead, since
// browsers cannot set headers on them.
func AuthMiddleware(tokens TokenStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("access_token")
		}

		identity, ok := tokens[token]
		if token == "" || !ok {
			utils.JSONError(c, http.StatusUnauthorized, biddingerrors.ErrUnauthorized, "your session has expired, please log in again")
			utils.Warn("AuthMiddleware: rejected request", map[string]any{"path": c.Request.URL.Path})
			c.Abort()
			return
		}

		identity.Token = token
		c.Set(helpers.IdentityKey, identity)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
