package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	sessionrepos "github.com/procurelabs/vendorgate-backend/internal/data/repos/session"
	"github.com/procurelabs/vendorgate-backend/internal/data/repos/testutil"
	sessionsvc "github.com/procurelabs/vendorgate-backend/internal/services/session"
)

const (
	testUA   = "Mozilla/5.0 (X11; Linux x86_64) Chrome/120.0.6099.71"
	testLang = "en-US,en;q=0.9"
	testEnc  = "gzip, deflate, br"
	testIP   = "203.0.113.10"
)

func newSessionManager(t *testing.T) sessionsvc.Manager {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cfg := sessionsvc.DefaultConfig("middleware-test-secret")
	mgr, err := sessionsvc.NewManager(db, log, sessionrepos.NewSessionRepo(db, log), sessionrepos.NewMagicLinkRepo(db, log), nil, cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func sessionRouter(t *testing.T, mgr sessionsvc.Manager) (*gin.Engine, *SessionMiddleware) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sm := NewSessionMiddleware(testutil.Logger(t), mgr, DefaultCookieConfig())

	r := gin.New()
	protected := r.Group("/")
	protected.Use(sm.RequireSession())
	protected.GET("/me", func(c *gin.Context) {
		sctx := SessionFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": sctx.Session.UserID})
	})
	return r, sm
}

func browserRequest(sessionID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("User-Agent", testUA)
	req.Header.Set("Accept-Language", testLang)
	req.Header.Set("Accept-Encoding", testEnc)
	req.Header.Set("X-Forwarded-For", testIP)
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "vg_session", Value: sessionID})
	}
	return req
}

func TestRequireSessionAcceptsValidCookie(t *testing.T) {
	mgr := newSessionManager(t)
	r, _ := sessionRouter(t, mgr)

	sctx, err := mgr.Create(context.Background(), "", testUA, testIP, testLang, testEnc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, browserRequest(sctx.Session.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRequireSessionRejectsMissingAndUnknownCookie(t *testing.T) {
	mgr := newSessionManager(t)
	r, _ := sessionRouter(t, mgr)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, browserRequest(""))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing cookie: status = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, browserRequest("no-such-session"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown cookie: status = %d, want 401", w.Code)
	}
}

func TestRequireSessionRewritesCookieOnRotation(t *testing.T) {
	mgr := newSessionManager(t)
	r, _ := sessionRouter(t, mgr)

	sctx, err := mgr.Create(context.Background(), "", testUA, testIP, testLang, testEnc)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	oldID := sctx.Session.ID

	// Backdate the rotation clock so the next Get rotates.
	backdateRotation(t, mgr, oldID, 4*time.Hour)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, browserRequest(oldID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var rewritten *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == "vg_session" {
			rewritten = ck
		}
	}
	if rewritten == nil {
		t.Fatalf("rotation must rewrite the session cookie")
	}
	if rewritten.Value == oldID || rewritten.Value == "" {
		t.Fatalf("cookie still carries the old id")
	}
	if !rewritten.HttpOnly || rewritten.Path != "/" {
		t.Fatalf("cookie attributes wrong: %+v", rewritten)
	}
}

// backdateRotation shifts last_rotated_at into the past and re-signs the
// record, simulating a session older than its rotation cadence.
func backdateRotation(t *testing.T, mgr sessionsvc.Manager, sessionID string, age time.Duration) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := sessionrepos.NewSessionRepo(db, log)

	s, err := repo.GetByID(context.Background(), nil, sessionID)
	if err != nil || s == nil {
		t.Fatalf("load session: %v", err)
	}
	past := time.Now().UTC().Add(-age)
	s.LastRotatedAt = past

	signer, err := sessionsvc.NewSigner("middleware-test-secret")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	s.Signature = signer.Sign(s)
	if err := repo.Update(context.Background(), nil, s); err != nil {
		t.Fatalf("update session: %v", err)
	}
}
