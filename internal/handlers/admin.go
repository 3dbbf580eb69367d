package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/pkg/logger"
	ctfservices "github.com/procurelabs/vendorgate-backend/internal/services/ctf"
)

type AdminHandler struct {
	log        *logger.Logger
	loader     *ctfservices.Loader
	challenges ctfservices.ChallengeService
	badges     ctfservices.BadgeService
	token      string
}

func NewAdminHandler(log *logger.Logger, loader *ctfservices.Loader, challenges ctfservices.ChallengeService, badges ctfservices.BadgeService, token string) *AdminHandler {
	return &AdminHandler{
		log:        log.With("handler", "AdminHandler"),
		loader:     loader,
		challenges: challenges,
		badges:     badges,
		token:      token,
	}
}

// RequireAdmin gates the admin group on a static bearer token. Disabled
// entirely when no token is configured.
func (ah *AdminHandler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ah.token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{"message": "not found"}})
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(ah.token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{"message": "forbidden", "code": "admin_forbidden"}})
			return
		}
		c.Next()
	}
}

// ReloadDefinitions re-reads the definition directory and drops the rule
// caches so new content takes effect without a restart.
func (ah *AdminHandler) ReloadDefinitions(c *gin.Context) {
	res, err := ah.loader.LoadDir(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "reload_failed", err)
		return
	}
	ah.challenges.InvalidateCache()
	ah.badges.InvalidateCache()
	ah.log.Info("definitions reloaded", "challenges", res.Challenges, "badges", res.Badges, "skipped", len(res.Skipped))
	RespondOK(c, gin.H{
		"challenges": res.Challenges,
		"badges":     res.Badges,
		"skipped":    res.Skipped,
	})
}
