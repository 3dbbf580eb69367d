package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	ctfrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/ctf"
	"github.com/procurelabs/vendorgate-backend/internal/middleware"
	ctfservices "github.com/procurelabs/vendorgate-backend/internal/services/ctf"
)

var errInvalidLimit = errors.New("limit must be between 1 and 500")

type CTFHandler struct {
	challenges ctfservices.ChallengeService
	badges     ctfservices.BadgeService
	events     ctfrepos.EventRepo
}

func NewCTFHandler(challenges ctfservices.ChallengeService, badges ctfservices.BadgeService, events ctfrepos.EventRepo) *CTFHandler {
	return &CTFHandler{challenges: challenges, badges: badges, events: events}
}

func (ch *CTFHandler) Challenges(c *gin.Context) {
	sctx := middleware.SessionFromContext(c)
	out, err := ch.challenges.Overview(c.Request.Context(), sctx.Session.Namespace, sctx.Session.UserID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "challenge_overview_failed", err)
		return
	}
	RespondOK(c, gin.H{"challenges": out})
}

func (ch *CTFHandler) Badges(c *gin.Context) {
	sctx := middleware.SessionFromContext(c)
	out, err := ch.badges.Overview(c.Request.Context(), sctx.Session.Namespace, sctx.Session.UserID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "badge_overview_failed", err)
		return
	}
	RespondOK(c, gin.H{"badges": out})
}

// RecentEvents serves the activity feed for the caller's namespace.
func (ch *CTFHandler) RecentEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			RespondError(c, http.StatusBadRequest, "invalid_limit", errInvalidLimit)
			return
		}
		limit = n
	}

	sctx := middleware.SessionFromContext(c)
	rows, err := ch.events.ListRecent(c.Request.Context(), nil, sctx.Session.Namespace, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "events_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"events": rows})
}
