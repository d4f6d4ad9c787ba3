package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Bldg-7/rider-agent-panel/internal/shared"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	ErrInvalidCallback     = errors.New("invalid OIDC callback state or missing code")
	ErrTokenExchangeFailed = errors.New("failed to exchange code for token")
	ErrNoSession           = errors.New("no session")
	ErrUnparsableClaims    = errors.New("unparsable session claims")
)

const (
	CallbackPath = "/auth/callback"

	tokenExchangeTimeout = 15 * time.Second
)

var defaultScopes = []string{"openid", "profile"}

// Recorder receives login and logout outcomes. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordAuth(action, result, detail, ipAddr string)
}

type Options struct {
	Enabled    bool
	IssuerURL  string
	ClientID   string
	Scopes     []string
	PublicURL  string
	Secure     bool
	TrustProxy bool
	HTTPClient *http.Client
	Decoder    SessionDecoder
	Recorder   Recorder
	Logger     *zap.Logger
}

// Flow implements the PKCE authorization code login, callback, logout and
// status handlers.
type Flow struct {
	enabled    bool
	issuer     string
	clientID   string
	scopes     []string
	publicURL  string
	trustProxy bool
	cookies    cookieWriter
	client     *http.Client
	decoder    SessionDecoder
	recorder   Recorder
	consumed   *stateLedger
	gate       *Gate
	logger     *zap.Logger
}

func NewFlow(opts Options) (*Flow, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: tokenExchangeTimeout}
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = CookieSessionDecoder{}
	}
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	ledger, err := newStateLedger(defaultConsumedStates)
	if err != nil {
		return nil, fmt.Errorf("create state ledger: %w", err)
	}

	return &Flow{
		enabled:    opts.Enabled,
		issuer:     opts.IssuerURL,
		clientID:   opts.ClientID,
		scopes:     scopes,
		publicURL:  strings.TrimRight(opts.PublicURL, "/"),
		trustProxy: opts.TrustProxy,
		cookies:    cookieWriter{secure: opts.Secure},
		client:     client,
		decoder:    decoder,
		recorder:   opts.Recorder,
		consumed:   ledger,
		gate:       NewGate(opts.Enabled, decoder, logger),
		logger:     logger,
	}, nil
}

func (f *Flow) Enabled() bool { return f.enabled }

func (f *Flow) Gate() *Gate { return f.gate }

// Register mounts the /auth routes on mux.
func (f *Flow) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+LoginPath, f.Login)
	mux.HandleFunc("GET "+CallbackPath, f.Callback)
	mux.HandleFunc("GET /auth/logout", f.Logout)
	mux.HandleFunc("GET /auth/status", f.Status)
}

func (f *Flow) oauthConfig(r *http.Request) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    f.clientID,
		Endpoint:    issuerEndpoint(f.issuer),
		RedirectURL: f.redirectURI(r),
		Scopes:      f.scopes,
	}
}

func (f *Flow) redirectURI(r *http.Request) string {
	if f.publicURL != "" {
		return f.publicURL + CallbackPath
	}
	scheme := "http"
	if shared.RequestIsSecure(r, f.trustProxy) {
		scheme = "https"
	}
	return scheme + "://" + r.Host + CallbackPath
}

func (f *Flow) Login(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		f.logger.Error("failed to start login", zap.Error(err))
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	verifier := oauth2.GenerateVerifier()

	f.cookies.set(w, CookieVerifier, verifier, pkceCookieTTL)
	f.cookies.set(w, CookieState, state, pkceCookieTTL)

	target := f.oauthConfig(r).AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *Flow) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	savedState := cookieValue(r, CookieState)
	verifier := cookieValue(r, CookieVerifier)

	if code == "" || state == "" || savedState == "" || verifier == "" || state != savedState {
		f.record(r, "auth.login", "invalid_callback", "state mismatch or missing code")
		http.Error(w, "Invalid OIDC callback state or missing code", http.StatusBadRequest)
		return
	}
	if !f.consumed.consume(state) {
		f.record(r, "auth.login", "invalid_callback", "state already redeemed")
		http.Error(w, "Invalid OIDC callback state or missing code", http.StatusBadRequest)
		return
	}

	tok, err := f.exchange(r, code, verifier)
	if err != nil {
		f.record(r, "auth.login", "exchange_failed", err.Error())
		http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
		return
	}

	idToken, _ := tok.Extra("id_token").(string)
	claims := decodeTokenClaims(idToken)
	if claims == nil {
		claims = decodeTokenClaims(tok.AccessToken)
	}
	encoded, err := encodeClaimsCookie(claims)
	if err != nil {
		f.logger.Error("failed to encode session claims", zap.Error(err))
		http.Error(w, "Failed to exchange code for token", http.StatusInternalServerError)
		return
	}

	switch {
	case idToken != "":
		f.cookies.set(w, CookieIDToken, idToken, sessionCookieTTL)
	case cookieValue(r, CookieIDToken) != "":
		// Drop the hint left by an earlier session.
		f.cookies.clear(w, CookieIDToken)
	}
	f.cookies.set(w, CookieAccessToken, tok.AccessToken, sessionCookieTTL)
	f.cookies.set(w, CookieUserClaims, encoded, sessionCookieTTL)

	f.record(r, "auth.login", "success", claims.Subject())
	http.Redirect(w, r, "/", http.StatusFound)
}

func (f *Flow) exchange(r *http.Request, code, verifier string) (*oauth2.Token, error) {
	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, f.client)
	tok, err := f.oauthConfig(r).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err == nil {
		return tok, nil
	}

	fields := []zap.Field{zap.Error(err)}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		fields = append(fields,
			zap.Int("upstream_status", rErr.Response.StatusCode),
			zap.ByteString("upstream_body", rErr.Body),
		)
	}
	f.logger.Error("OIDC token exchange failed", fields...)
	return nil, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
}

func (f *Flow) Logout(w http.ResponseWriter, r *http.Request) {
	idToken := cookieValue(r, CookieIDToken)
	for _, name := range allCookies {
		f.cookies.clear(w, name)
	}
	f.record(r, "auth.logout", "success", "")

	target, err := endSessionURL(f.issuer, idToken)
	if err != nil {
		f.logger.Warn("falling back to local logout redirect", zap.Error(err))
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type statusResponse struct {
	Authenticated bool `json:"authenticated"`
	User          any  `json:"user,omitempty"`
}

func (f *Flow) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}
	if !f.enabled {
		resp = statusResponse{Authenticated: true, User: Claims{}}
	} else if claims, err := f.decoder.Decode(r); err == nil {
		resp = statusResponse{Authenticated: true, User: claims}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (f *Flow) record(r *http.Request, action, result, detail string) {
	if f.recorder == nil {
		return
	}
	f.recorder.RecordAuth(action, result, detail, shared.ClientIP(r, f.trustProxy))
}
