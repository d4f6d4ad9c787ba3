package auth

import (
	"net/http"
	"time"
)

const (
	CookieVerifier    = "pkce_verifier"
	CookieState       = "pkce_state"
	CookieIDToken     = "id_token"
	CookieAccessToken = "access_token"
	CookieUserClaims  = "user_claims"
)

const (
	pkceCookieTTL    = 10 * time.Minute
	sessionCookieTTL = 4 * time.Hour
)

var allCookies = []string{
	CookieIDToken,
	CookieAccessToken,
	CookieUserClaims,
	CookieState,
	CookieVerifier,
}

// cookieWriter applies the shared attributes every auth cookie carries:
// HttpOnly, SameSite=Lax, root path, Secure in production.
type cookieWriter struct {
	secure bool
}

func (c cookieWriter) set(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
}

func (c cookieWriter) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
