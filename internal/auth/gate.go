package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

const LoginPath = "/auth/login"

// Gate is a stateless per-request check over the session cookies.
type Gate struct {
	enabled bool
	decoder SessionDecoder
	logger  *zap.Logger
}

func NewGate(enabled bool, decoder SessionDecoder, logger *zap.Logger) *Gate {
	if decoder == nil {
		decoder = CookieSessionDecoder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{enabled: enabled, decoder: decoder, logger: logger}
}

// Pages sends unauthenticated browsers to the login start.
func (g *Gate) Pages(next http.Handler) http.Handler {
	return g.guard(next, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
	})
}

// API answers unauthenticated callers with 401 JSON.
func (g *Gate) API(next http.Handler) http.Handler {
	return g.guard(next, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "authentication required",
			"code":  "AUTH_REQUIRED",
		})
	})
}

func (g *Gate) guard(next http.Handler, deny http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := g.decoder.Decode(r)
		if err != nil {
			if errors.Is(err, ErrUnparsableClaims) {
				g.logger.Debug("rejecting unparsable session", zap.String("path", r.URL.Path), zap.Error(err))
			}
			deny(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}
