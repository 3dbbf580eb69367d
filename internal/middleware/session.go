package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/fingerprint"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	sessionsvc "github.com/procurelabs/vendorgate-backend/internal/services/session"
)

const sessionContextKey = "vendorgate.session"

// CookieConfig controls the session cookie the middleware reads and
// rewrites.
type CookieConfig struct {
	Name   string
	Domain string
	Secure bool

	TempMaxAge time.Duration
	PermMaxAge time.Duration
}

func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:       "vg_session",
		Secure:     false,
		TempMaxAge: 7 * 24 * time.Hour,
		PermMaxAge: 14 * 24 * time.Hour,
	}
}

type SessionMiddleware struct {
	log      *logger.Logger
	sessions sessionsvc.Manager
	cookie   CookieConfig
}

func NewSessionMiddleware(baseLog *logger.Logger, sessions sessionsvc.Manager, cookie CookieConfig) *SessionMiddleware {
	return &SessionMiddleware{
		log:      baseLog.With("middleware", "SessionMiddleware"),
		sessions: sessions,
		cookie:   cookie,
	}
}

// RequireSession validates the cookie on every request and aborts with a
// 401 when no valid session is present. Expiry and tamper outcomes both
// surface as "session expired" to the client; the distinction is logged
// server side only.
func (sm *SessionMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(sm.cookie.Name)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing session", "code": "session_missing"}})
			return
		}

		sctx, err := sm.resolve(c, sessionID)
		if err != nil {
			sm.log.Error("session lookup failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "session lookup failed", "code": "internal"}})
			return
		}
		if !sctx.Valid() {
			sm.ClearCookie(c)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "session expired", "code": "session_expired"}})
			return
		}

		if sctx.NeedsCookieUpdate {
			sm.WriteCookie(c, sctx)
		}
		c.Set(sessionContextKey, sctx)
		c.Next()
	}
}

// OptionalSession resolves the session when a cookie is present but never
// rejects the request. Handlers that serve both states read the session
// from the gin context.
func (sm *SessionMiddleware) OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(sm.cookie.Name)
		if err == nil && sessionID != "" {
			if sctx, rerr := sm.resolve(c, sessionID); rerr == nil && sctx.Valid() {
				if sctx.NeedsCookieUpdate {
					sm.WriteCookie(c, sctx)
				}
				c.Set(sessionContextKey, sctx)
			}
		}
		c.Next()
	}
}

func (sm *SessionMiddleware) resolve(c *gin.Context, sessionID string) (*sessionsvc.Context, error) {
	ua := c.GetHeader("User-Agent")
	lang := c.GetHeader("Accept-Language")
	enc := c.GetHeader("Accept-Encoding")
	strict := fingerprint.Hash(ua, lang, enc, fingerprint.Strict)
	loose := fingerprint.Hash(ua, lang, enc, fingerprint.Loose)
	return sm.sessions.Get(c.Request.Context(), sessionID, strict, loose, c.ClientIP())
}

// WriteCookie rewrites the session cookie after create, rotate or refresh.
func (sm *SessionMiddleware) WriteCookie(c *gin.Context, sctx *sessionsvc.Context) {
	maxAge := sm.cookie.TempMaxAge
	if sctx.Session.Permanent {
		maxAge = sm.cookie.PermMaxAge
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sm.cookie.Name, sctx.Session.ID, int(maxAge.Seconds()), "/", sm.cookie.Domain, sm.cookie.Secure, true)
}

func (sm *SessionMiddleware) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sm.cookie.Name, "", -1, "/", sm.cookie.Domain, sm.cookie.Secure, true)
}

// SessionFromContext returns the validated session set by RequireSession,
// or nil when the request carried none.
func SessionFromContext(c *gin.Context) *sessionsvc.Context {
	v, ok := c.Get(sessionContextKey)
	if !ok {
		return nil
	}
	sctx, ok := v.(*sessionsvc.Context)
	if !ok {
		return nil
	}
	return sctx
}
