package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/api/apierr"
)

const apiKeyHeader = "X-API-Key"

// Auth guards the admin API with a static key sent as X-API-Key or as a
// bearer token. An empty key leaves the group open.
func Auth(apiKey string) gin.HandlerFunc {
	if apiKey == "" {
		return func(c *gin.Context) { c.Next() }
	}
	want := []byte(apiKey)

	return func(c *gin.Context) {
		if subtle.ConstantTimeCompare([]byte(presentedKey(c)), want) != 1 {
			apierr.AbortKind(c, http.StatusUnauthorized, apierr.Unauthorized)
			return
		}
		c.Next()
	}
}

func presentedKey(c *gin.Context) string {
	if key := c.GetHeader(apiKeyHeader); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return token
	}
	return ""
}
