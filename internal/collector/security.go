package collector

import (
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"

	"github.com/Bldg-7/rider-agent-panel/internal/config"
)

// SecretHeader carries the pre-shared ingestion secret.
const SecretHeader = "X-Secret-Key"

func LoadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// MatchOrigin reports whether origin satisfies pattern. Patterns may be
// "*", an exact origin, "scheme://host:*" for any port, or
// "scheme://*.domain" for any subdomain.
func MatchOrigin(origin, pattern string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ":*"):
		return stripPort(origin) == strings.TrimSuffix(pattern, ":*")
	case strings.HasPrefix(pattern, "https://*."), strings.HasPrefix(pattern, "http://*."):
		scheme, rest, _ := strings.Cut(pattern, "://*")
		prefix := scheme + "://"
		if !strings.HasPrefix(origin, prefix) {
			return false
		}
		host := strings.TrimPrefix(origin, prefix)
		return strings.HasSuffix(host, rest) && len(host) > len(rest) && !strings.HasPrefix(host, "*")
	default:
		return origin == pattern
	}
}

func stripPort(origin string) string {
	if idx := strings.LastIndex(origin, ":"); idx > strings.Index(origin, "//") {
		return origin[:idx]
	}
	return origin
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}

// secretDigest fixes the compared length so neither a length mismatch nor
// the position of the first differing byte shows up in comparison time.
func secretDigest(secret string) [sha256.Size]byte {
	return sha256.Sum256([]byte(secret))
}

func secretMatches(expected [sha256.Size]byte, provided string) bool {
	got := secretDigest(provided)
	return subtle.ConstantTimeCompare(expected[:], got[:]) == 1
}

// providedSecret reads the device secret from X-Secret-Key, falling back
// to an Authorization bearer token.
func providedSecret(r *http.Request) string {
	if v := r.Header.Get(SecretHeader); v != "" {
		return v
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
