package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

const stateBytes = 16

// newState returns 128 bits of randomness, base64url without padding.
func newState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// issuerEndpoint maps an issuer base URL onto its authorize and token
// endpoints. The panel is a public client, so credentials go in the body.
func issuerEndpoint(issuer string) oauth2.Endpoint {
	base := strings.TrimRight(issuer, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/connect/authorize",
		TokenURL:  base + "/connect/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// endSessionURL builds the upstream logout URL, forwarding idToken as a
// hint when present.
func endSessionURL(issuer, idToken string) (string, error) {
	base := strings.TrimRight(issuer, "/")
	if base == "" {
		return "", fmt.Errorf("issuer not configured")
	}
	u, err := url.Parse(base + "/connect/logout")
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("issuer %q is not an absolute URL", issuer)
	}
	if idToken != "" {
		q := u.Query()
		q.Set("id_token_hint", idToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
