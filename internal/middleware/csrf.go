package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
)

type CSRFConfig struct {
	HeaderName string
	// ExemptPrefixes bypass the check entirely, for health and static
	// paths that never mutate state.
	ExemptPrefixes []string
}

func DefaultCSRFConfig() CSRFConfig {
	return CSRFConfig{
		HeaderName:     "X-CSRF-Token",
		ExemptPrefixes: []string{"/healthcheck", "/static"},
	}
}

type CSRFMiddleware struct {
	log *logger.Logger
	cfg CSRFConfig
}

func NewCSRFMiddleware(baseLog *logger.Logger, cfg CSRFConfig) *CSRFMiddleware {
	return &CSRFMiddleware{log: baseLog.With("middleware", "CSRFMiddleware"), cfg: cfg}
}

// Protect enforces the anti-forgery token on mutating requests. Must run
// after RequireSession: the token is compared against the one stored on the
// verified session. The failure is a 403 with its own code so the UI can
// tell "bad token" apart from "session expired".
func (cm *CSRFMiddleware) Protect() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) || cm.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		sctx := SessionFromContext(c)
		if sctx == nil || sctx.Session == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing session", "code": "session_missing"}})
			return
		}

		token := c.GetHeader(cm.cfg.HeaderName)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(sctx.Session.CSRFToken)) != 1 {
			cm.log.Warn("csrf token mismatch", "path", c.Request.URL.Path, "user_id", sctx.Session.UserID)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"message": "invalid csrf token", "code": "csrf_invalid"}})
			return
		}
		c.Next()
	}
}

func (cm *CSRFMiddleware) exempt(path string) bool {
	for _, prefix := range cm.cfg.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
