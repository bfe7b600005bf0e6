// README: Tests for Firebase auth middleware.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/infra"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		uid := middleware.CallerUID(c)
		role := middleware.CallerRole(c)
		c.JSON(http.StatusOK, gin.H{"uid": uid, "role": role})
	})
	return r
}

func TestAuth_DisabledWithoutVerifier(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(nil))
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "uid=%s", middleware.CallerUID(c))
	})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "uid=" {
		t.Errorf("expected anonymous pass-through, got %d %q", w.Code, w.Body.String())
	}
}

func TestAuth_TokenQueryForSocketUpgrade(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "driver9"}})
	req := httptest.NewRequest(http.MethodGet, "/test?token=abc", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "driver9") {
		t.Errorf("expected query token accepted, got %d %s", w.Code, w.Body.String())
	}
}

func TestAuth_Rejections(t *testing.T) {
	cases := []struct {
		name     string
		verifier *stubVerifier
		header   string
		target   string
	}{
		{"no token", &stubVerifier{token: &infra.FirebaseToken{UID: "d1"}}, "", "/test"},
		{"wrong scheme", &stubVerifier{token: &infra.FirebaseToken{UID: "d1"}}, "Token abc", "/test"},
		{"empty query token", &stubVerifier{token: &infra.FirebaseToken{UID: "d1"}}, "", "/test?token="},
		{"verifier error on header", &stubVerifier{err: errors.New("expired")}, "Bearer abc", "/test"},
		{"verifier error on query", &stubVerifier{err: errors.New("expired")}, "", "/test?token=abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(tc.verifier)
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestAuth_HeaderWinsOverQuery(t *testing.T) {
	v := &recordingVerifier{}
	r := newTestRouter(v)
	req := httptest.NewRequest(http.MethodGet, "/test?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if v.seen != "from-header" {
		t.Fatalf("expected header token to be verified, got %q", v.seen)
	}
}

type recordingVerifier struct{ seen string }

func (v *recordingVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	v.seen = raw
	return &infra.FirebaseToken{UID: "op1", Claims: map[string]interface{}{"role": "operator"}}, nil
}

func TestAuth_OperatorRoleClaim(t *testing.T) {
	token := &infra.FirebaseToken{UID: "op7", Claims: map[string]interface{}{"role": "operator"}}
	r := newTestRouter(&stubVerifier{token: token})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer ok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"uid":"op7"`) || !strings.Contains(body, `"role":"operator"`) {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestAuth_MissingRoleClaimLeavesRoleEmpty(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.FirebaseToken{UID: "driver3", Claims: map[string]interface{}{"role": 42}}})
	req := httptest.NewRequest(http.MethodGet, "/test?token=ok", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"role":""`) {
		t.Fatalf("expected empty role, got %s", w.Body.String())
	}
}
