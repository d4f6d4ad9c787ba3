package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestClaimsCookieRoundTripPreservesNesting(t *testing.T) {
	in := Claims{"sub": "u", "roles": []any{"viewer"}, "address": map[string]any{"country": "NL"}}
	encoded, err := encodeClaimsCookie(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := decodeClaimsCookie(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if out.Subject() != "u" {
		t.Errorf("unexpected subject %q", out.Subject())
	}
	if addr, ok := out["address"].(map[string]any); !ok || addr["country"] != "NL" {
		t.Errorf("nested claim lost: %v", out["address"])
	}
}

func TestCookieSessionDecoderErrors(t *testing.T) {
	var dec CookieSessionDecoder

	_, err := dec.Decode(httptest.NewRequest(http.MethodGet, "/", nil))
	if !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieUserClaims, Value: "!!"})
	_, err = dec.Decode(req)
	if !errors.Is(err, ErrUnparsableClaims) {
		t.Errorf("expected ErrUnparsableClaims, got %v", err)
	}
}

func TestDecodeTokenClaimsIgnoresSignature(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "abc"}).SignedString([]byte("unknown-key"))
	if err != nil {
		t.Fatal(err)
	}
	if got := decodeTokenClaims(tok); got.Subject() != "abc" {
		t.Errorf("expected sub abc, got %v", got)
	}
	if decodeTokenClaims("") != nil {
		t.Error("expected nil for empty token")
	}
	if decodeTokenClaims("opaque") != nil {
		t.Error("expected nil for opaque token")
	}
}

func TestStateLedgerConsumesOnce(t *testing.T) {
	ledger, err := newStateLedger(2)
	if err != nil {
		t.Fatal(err)
	}
	if !ledger.consume("a") {
		t.Error("first use should succeed")
	}
	if ledger.consume("a") {
		t.Error("second use should fail")
	}
}

func TestEndSessionURL(t *testing.T) {
	got, err := endSessionURL("https://id.example.com/", "")
	if err != nil || got != "https://id.example.com/connect/logout" {
		t.Errorf("unexpected %q %v", got, err)
	}
	if _, err := endSessionURL("", "tok"); err == nil {
		t.Error("expected error for empty issuer")
	}
}
