package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sessionrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/session"
	"github.com/procurelabs/vendorgate-backend/internal/fingerprint"
	"github.com/procurelabs/vendorgate-backend/internal/middleware"
	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	sessionsvc "github.com/procurelabs/vendorgate-backend/internal/services/session"
)

type AuthHandler struct {
	log      *logger.Logger
	sessions sessionsvc.Manager
	cookies  *middleware.SessionMiddleware
	// echoLinks returns the magic link in the response body instead of
	// relying on the mail collaborator. Development only.
	echoLinks bool
}

func NewAuthHandler(log *logger.Logger, sessions sessionsvc.Manager, cookies *middleware.SessionMiddleware, echoLinks bool) *AuthHandler {
	return &AuthHandler{
		log:       log.With("handler", "AuthHandler"),
		sessions:  sessions,
		cookies:   cookies,
		echoLinks: echoLinks,
	}
}

func clientHeaders(c *gin.Context) (ua, ip, lang, enc string) {
	return c.GetHeader("User-Agent"), c.ClientIP(), c.GetHeader("Accept-Language"), c.GetHeader("Accept-Encoding")
}

func sessionPayload(sctx *sessionsvc.Context) gin.H {
	s := sctx.Session
	return gin.H{
		"user_id":    s.UserID,
		"namespace":  s.Namespace,
		"permanent":  s.Permanent,
		"csrf_token": s.CSRFToken,
		"expires_at": s.ExpiresAt,
	}
}

// Bootstrap issues an anonymous temporary session for first-time visitors
// and writes the cookie.
func (ah *AuthHandler) Bootstrap(c *gin.Context) {
	if existing := middleware.SessionFromContext(c); existing != nil {
		RespondOK(c, gin.H{"session": sessionPayload(existing)})
		return
	}
	ua, ip, lang, enc := clientHeaders(c)
	sctx, err := ah.sessions.Create(c.Request.Context(), "", ua, ip, lang, enc)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "session_create_failed", err)
		return
	}
	ah.cookies.WriteCookie(c, sctx)
	RespondOK(c, gin.H{"session": sessionPayload(sctx)})
}

func (ah *AuthHandler) Me(c *gin.Context) {
	sctx := middleware.SessionFromContext(c)
	RespondOK(c, gin.H{"session": sessionPayload(sctx)})
}

// RequestMagicLink issues a signed single-use sign-in link for the given
// email. The response never reveals whether the address is known; delivery
// is the mail collaborator's job.
func (ah *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("email required"))
		return
	}

	var sessionID *string
	if sctx := middleware.SessionFromContext(c); sctx != nil && sctx.Session != nil {
		id := sctx.Session.ID
		sessionID = &id
	}

	link, err := ah.sessions.IssueMagicLink(c.Request.Context(), req.Email, sessionID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "magic_link_failed", errors.New("could not issue sign-in link"))
		return
	}

	resp := gin.H{"sent": true}
	if ah.echoLinks {
		resp["link"] = link
	}
	RespondOK(c, resp)
}

// ConsumeMagicLink redeems a link token, upgrading the caller to a
// permanent session and writing the new cookie.
func (ah *AuthHandler) ConsumeMagicLink(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("token required"))
		return
	}

	ua, ip, lang, enc := clientHeaders(c)
	sctx, err := ah.sessions.ConsumeMagicLink(c.Request.Context(), req.Token, ua, ip, lang, enc)
	if err != nil {
		switch {
		case errors.Is(err, sessionrepos.ErrLinkExpired):
			RespondError(c, http.StatusGone, "link_expired", errors.New("sign-in link expired"))
		case errors.Is(err, sessionrepos.ErrLinkUsed):
			RespondError(c, http.StatusGone, "link_used", errors.New("sign-in link already used"))
		case errors.Is(err, sessionrepos.ErrLinkNotFound):
			RespondError(c, http.StatusNotFound, "link_not_found", errors.New("sign-in link not found"))
		default:
			RespondError(c, http.StatusInternalServerError, "link_consume_failed", errors.New("could not complete sign-in"))
		}
		return
	}

	ah.cookies.WriteCookie(c, sctx)
	RespondOK(c, gin.H{"session": sessionPayload(sctx)})
}

func (ah *AuthHandler) Logout(c *gin.Context) {
	sctx := middleware.SessionFromContext(c)
	if sctx != nil && sctx.Session != nil {
		if err := ah.sessions.Logout(c.Request.Context(), sctx.Session.ID); err != nil {
			ah.log.Error("logout failed", "error", err)
		}
	}
	ah.cookies.ClearCookie(c)
	RespondOK(c, gin.H{"success": true})
}

// SwitchVendorContext changes which vendor sub-account the user acts as,
// across all of the user's open sessions at once.
func (ah *AuthHandler) SwitchVendorContext(c *gin.Context) {
	var req struct {
		VendorID *string `json:"vendor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("invalid request body"))
		return
	}

	var vendorID *uuid.UUID
	if req.VendorID != nil && *req.VendorID != "" {
		id, err := uuid.Parse(*req.VendorID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_vendor_id", errors.New("vendor_id must be a uuid"))
			return
		}
		vendorID = &id
	}

	sctx := middleware.SessionFromContext(c)
	updated, err := ah.sessions.SwitchVendorContext(c.Request.Context(), sctx.Session.UserID, vendorID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "vendor_switch_failed", err)
		return
	}
	RespondOK(c, gin.H{"sessions_updated": updated})
}

// Fingerprints recomputes the caller's current fingerprints. Debug aid for
// support when a device-change flag fires.
func (ah *AuthHandler) Fingerprints(c *gin.Context) {
	ua, _, lang, enc := clientHeaders(c)
	RespondOK(c, gin.H{
		"strict": fingerprint.Hash(ua, lang, enc, fingerprint.Strict),
		"loose":  fingerprint.Hash(ua, lang, enc, fingerprint.Loose),
	})
}
