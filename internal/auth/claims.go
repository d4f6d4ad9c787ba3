package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the decoded payload of the identity (or access) token.
type Claims map[string]any

// Subject returns the "sub" claim, or "" when absent.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// SessionDecoder resolves the viewer session carried by a request.
type SessionDecoder interface {
	Decode(r *http.Request) (Claims, error)
}

// CookieSessionDecoder reads claims from the user_claims cookie written by
// the callback. There is no server-side session state.
type CookieSessionDecoder struct{}

func (CookieSessionDecoder) Decode(r *http.Request) (Claims, error) {
	c, err := r.Cookie(CookieUserClaims)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	claims, err := decodeClaimsCookie(c.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableClaims, err)
	}
	return claims, nil
}

func encodeClaimsCookie(claims Claims) (string, error) {
	if claims == nil {
		claims = Claims{}
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeClaimsCookie(value string) (Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, err
	}
	if claims == nil {
		claims = Claims{}
	}
	return claims, nil
}

// decodeTokenClaims reads a JWT payload without verifying its signature.
// Returns nil when token is empty or malformed.
func decodeTokenClaims(token string) Claims {
	if token == "" {
		return nil
	}
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil
	}
	return Claims(mc)
}

type claimsKey struct{}

// WithClaims attaches decoded session claims to ctx.
func WithClaims(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims stored by the session gate.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
