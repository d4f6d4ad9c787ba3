package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler(t *testing.T, wantSub string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if wantSub != "" && (!ok || claims.Subject() != wantSub) {
			t.Errorf("expected claims for %q in context, got %v", wantSub, claims)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestGatePagesRedirectsWithoutSession(t *testing.T) {
	gate := NewGate(true, nil, nil)
	rec := httptest.NewRecorder()
	gate.Pages(okHandler(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != LoginPath {
		t.Fatalf("expected redirect to login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestGatePagesRedirectsOnUnparsableClaims(t *testing.T) {
	gate := NewGate(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieUserClaims, Value: "bm90LWpzb24"})
	rec := httptest.NewRecorder()
	gate.Pages(okHandler(t, "")).ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
}

func TestGateAPIReturnsJSON401(t *testing.T) {
	gate := NewGate(true, nil, nil)
	rec := httptest.NewRecorder()
	gate.API(okHandler(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/api/simrigs", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"AUTH_REQUIRED"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestGatePassesValidSession(t *testing.T) {
	gate := NewGate(true, nil, nil)
	encoded, err := encodeClaimsCookie(Claims{"sub": "user-7"})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieUserClaims, Value: encoded})

	for name, h := range map[string]http.Handler{
		"pages": gate.Pages(okHandler(t, "user-7")),
		"api":   gate.API(okHandler(t, "user-7")),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected pass-through, got %d", name, rec.Code)
		}
	}
}

func TestGateBypassedWhenDisabled(t *testing.T) {
	gate := NewGate(false, nil, nil)
	rec := httptest.NewRecorder()
	gate.Pages(okHandler(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}

type staticDecoder struct {
	claims Claims
	err    error
}

func (d staticDecoder) Decode(*http.Request) (Claims, error) { return d.claims, d.err }

func TestGateUsesInjectedDecoder(t *testing.T) {
	gate := NewGate(true, staticDecoder{claims: Claims{"sub": "server-side"}}, nil)
	rec := httptest.NewRecorder()
	gate.API(okHandler(t, "server-side")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}

	gate = NewGate(true, staticDecoder{err: ErrNoSession}, nil)
	rec = httptest.NewRecorder()
	gate.API(okHandler(t, "")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
