package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/auth"
)

// =============================================================================
// Test Helpers
// =============================================================================

const testSecret = "middleware-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tenantEcho writes the tenant from the context, or "none".
func tenantEcho(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		tenantID, ok := auth.TenantFromRequest(r)
		if !ok {
			w.Write([]byte("none"))
			return
		}
		w.Write([]byte(tenantID.String()))
	})
}

func mint(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()
	token, err := auth.MintToken(tenantID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

// =============================================================================
// RequireTenant Tests
// =============================================================================

func TestRequireTenant_ValidToken_SetsTenant(t *testing.T) {
	mw := NewAuthMiddleware(testSecret, discardLogger())
	tenantID := uuid.New()
	called := false

	req := httptest.NewRequest("POST", "/v1/chat", nil)
	req.Header.Set("Authorization", "Bearer "+mint(t, tenantID))
	rec := httptest.NewRecorder()

	mw.RequireTenant(tenantEcho(&called)).ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != tenantID.String() {
		t.Errorf("expected tenant %s in context, got %q", tenantID, rec.Body.String())
	}
}

func TestRequireTenant_SchemeIsCaseInsensitive(t *testing.T) {
	mw := NewAuthMiddleware(testSecret, discardLogger())
	called := false

	req := httptest.NewRequest("POST", "/v1/chat", nil)
	req.Header.Set("Authorization", "bearer "+mint(t, uuid.New()))
	rec := httptest.NewRecorder()

	mw.RequireTenant(tenantEcho(&called)).ServeHTTP(rec, req)

	if !called {
		t.Error("expected lowercase scheme to be accepted")
	}
}

func TestRequireTenant_Rejects(t *testing.T) {
	expired := func(t *testing.T) string {
		claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + token
	}
	foreign := func(t *testing.T) string {
		token, err := auth.MintToken(uuid.New(), "another-secret", time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + token
	}

	tests := []struct {
		name        string
		header      func(t *testing.T) string
		wantMessage string
	}{
		{"no header", func(*testing.T) string { return "" }, "Missing bearer token"},
		{"basic scheme", func(*testing.T) string { return "Basic YWRtaW46c2VjcmV0" }, "Missing bearer token"},
		{"empty token", func(*testing.T) string { return "Bearer   " }, "Missing bearer token"},
		{"garbage token", func(*testing.T) string { return "Bearer not.a.jwt" }, "Invalid bearer token"},
		{"wrong secret", foreign, "Invalid bearer token"},
		{"expired", expired, "Bearer token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewAuthMiddleware(testSecret, discardLogger())
			called := false

			req := httptest.NewRequest("POST", "/v1/stream/chat", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()

			mw.RequireTenant(tenantEcho(&called)).ServeHTTP(rec, req)

			if called {
				t.Error("handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, `"unauthenticated"`) {
				t.Errorf("expected unauthenticated code, got %s", body)
			}
			if !strings.Contains(body, tt.wantMessage) {
				t.Errorf("expected message %q, got %s", tt.wantMessage, body)
			}
		})
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(mark("outer"), mark("middle"), mark("inner"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := "outer,middle,inner,handler"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("expected order %s, got %s", want, got)
	}
}
