package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	serviceKeyHeader = "x-api-key"
	userKeyHeader    = "x-user-api-key"
)

// Auth guards the management surface with the shared service key.
// Provider callbacks stay unauthenticated; they are authenticated by the
// consume-once state token instead.
type Auth struct {
	serviceKey []byte
}

func NewAuth(serviceKey string) *Auth {
	return &Auth{serviceKey: []byte(serviceKey)}
}

// RequireServiceKey validates the x-api-key header against the configured
// service key.
func (m *Auth) RequireServiceKey(c *gin.Context) {
	presented := strings.TrimSpace(c.GetHeader(serviceKeyHeader))
	if presented == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":             "unauthorized",
			"error_description": "x-api-key header required.",
		})
		return
	}
	if subtle.ConstantTimeCompare([]byte(presented), m.serviceKey) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":             "unauthorized",
			"error_description": "Invalid API key.",
		})
		return
	}
	c.Next()
}

// UserKey extracts the per-user key header; handlers validate it against
// the stored hash for the (user, platform) pair.
func UserKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(userKeyHeader))
}
