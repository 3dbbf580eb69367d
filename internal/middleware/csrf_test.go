package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/procurelabs/vendorgate-backend/internal/data/repos/testutil"
	types "github.com/procurelabs/vendorgate-backend/internal/domain/session"
	sessionsvc "github.com/procurelabs/vendorgate-backend/internal/services/session"
)

func csrfRouter(t *testing.T, sctx *sessionsvc.Context) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cm := NewCSRFMiddleware(testutil.Logger(t), DefaultCSRFConfig())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if sctx != nil {
			c.Set(sessionContextKey, sctx)
		}
		c.Next()
	})
	r.Use(cm.Protect())
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/resource", ok)
	r.POST("/resource", ok)
	r.POST("/healthcheck/deep", ok)
	return r
}

func sessionWithToken(token string) *sessionsvc.Context {
	return &sessionsvc.Context{
		Session: &types.Session{ID: "sess-1", UserID: "user-1", CSRFToken: token},
		Status:  sessionsvc.StatusValid,
	}
}

func TestCSRFMatchingTokenPasses(t *testing.T) {
	r := csrfRouter(t, sessionWithToken("tok-abc"))
	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.Header.Set("X-CSRF-Token", "tok-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestCSRFMismatchIsForbidden(t *testing.T) {
	r := csrfRouter(t, sessionWithToken("tok-abc"))
	for _, token := range []string{"", "tok-wrong", "tok-ab"} {
		req := httptest.NewRequest(http.MethodPost, "/resource", nil)
		if token != "" {
			req.Header.Set("X-CSRF-Token", token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("token %q: status = %d, want 403", token, w.Code)
		}
	}
}

func TestCSRFSafeMethodsSkipped(t *testing.T) {
	r := csrfRouter(t, sessionWithToken("tok-abc"))
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without token on GET", w.Code)
	}
}

func TestCSRFExemptPrefixBypasses(t *testing.T) {
	r := csrfRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/healthcheck/deep", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 on exempt prefix", w.Code)
	}
}

func TestCSRFWithoutSessionIsUnauthorized(t *testing.T) {
	r := csrfRouter(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/resource", nil)
	req.Header.Set("X-CSRF-Token", "tok-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 distinct from csrf 403", w.Code)
	}
}
