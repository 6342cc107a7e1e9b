package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medibridge/clinic/internal/domain/identity"
)

var testCfg = JWTConfig{Issuer: "medibridge-sandbox", SigningKey: []byte("test-secret")}

var doctor = identity.Identity{ID: 1, Email: "doctor@medibridge.com", Role: identity.RoleDoctor, Name: "Dr. John Doe"}

func runJWT(t *testing.T, cfg JWTConfig, header string) (*httptest.ResponseRecorder, identity.Identity, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/doctor/patients", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/doctor/patients")

	var seen identity.Identity
	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		seen, _ = UserFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	err := h(c)
	return rec, seen, err
}

func assertStatus(t *testing.T, err error, want int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != want {
		t.Errorf("expected status %d, got %d", want, he.Code)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token, err := IssueToken(testCfg, doctor)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rec, seen, err := runJWT(t, testCfg, "Bearer "+token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if seen != doctor {
		t.Errorf("expected identity %+v on context, got %+v", doctor, seen)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, err := runJWT(t, testCfg, "")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_BadFormat(t *testing.T) {
	_, _, err := runJWT(t, testCfg, "Token abc")
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token, _ := IssueToken(JWTConfig{SigningKey: []byte("other")}, doctor)
	_, _, err := runJWT(t, testCfg, "Bearer "+token)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	past := JWTConfig{
		Issuer:     testCfg.Issuer,
		SigningKey: testCfg.SigningKey,
		TTL:        time.Minute,
		Now:        func() time.Time { return time.Now().Add(-time.Hour) },
	}
	token, _ := IssueToken(past, doctor)
	_, _, err := runJWT(t, testCfg, "Bearer "+token)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	token, _ := IssueToken(testCfg, identity.Identity{ID: 9, Email: "x@y.z", Role: "admin"})
	_, _, err := runJWT(t, testCfg, "Bearer "+token)
	assertStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := testCfg
	cfg.Skipper = func(echo.Context) bool { return true }
	rec, _, err := runJWT(t, cfg, "")
	if err != nil || rec.Code != http.StatusOK {
		t.Errorf("expected skipped request to pass, got %v %d", err, rec.Code)
	}
}

func TestIssueToken_RequiresKey(t *testing.T) {
	if _, err := IssueToken(JWTConfig{}, doctor); err == nil {
		t.Error("expected error without signing key")
	}
}

func TestParseToken_RoundTrip(t *testing.T) {
	token, _ := IssueToken(testCfg, doctor)
	claims, err := ParseToken(testCfg, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	u, err := claims.Identity()
	if err != nil || u != doctor {
		t.Errorf("unexpected identity %+v, %v", u, err)
	}
}

// ---------------------------------------------------------------------------
// RequireRole
// ---------------------------------------------------------------------------

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		user   *identity.Identity
		roles  []identity.Role
		status int
	}{
		{"allowed", &doctor, []identity.Role{identity.RoleDoctor}, http.StatusOK},
		{"denied", &doctor, []identity.Role{identity.RoleReceptionist}, http.StatusForbidden},
		{"anonymous", nil, []identity.Role{identity.RoleDoctor}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(contextWithUser(req.Context(), *tt.user))
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole(tt.roles...)(func(c echo.Context) error {
				return c.String(http.StatusOK, "ok")
			})(c)

			if tt.status == http.StatusOK {
				if err != nil || rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %v %d", err, rec.Code)
				}
				return
			}
			assertStatus(t, err, tt.status)
		})
	}
}

// ---------------------------------------------------------------------------
// Skipper
// ---------------------------------------------------------------------------

func TestAuthSkipper(t *testing.T) {
	e := echo.New()
	for path, want := range map[string]bool{
		"/login":                 true,
		"/healthz":               true,
		"/auth/validate":         false,
		"/doctor/patients":       false,
		"/receptionist/patients": false,
	} {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, path, nil), httptest.NewRecorder())
		c.SetPath(path)
		if got := AuthSkipper(c); got != want {
			t.Errorf("AuthSkipper(%s) = %v, want %v", path, got, want)
		}
		if IsPublicPath(path) != want {
			t.Errorf("IsPublicPath(%s) mismatch", path)
		}
	}
}
