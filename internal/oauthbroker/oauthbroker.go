// Package oauthbroker implements the OAuth Flow Broker (C7): PKCE pair
// generation, a single-use PendingAuthState map with TTL sweep and
// capacity eviction, and code exchange built on golang.org/x/oauth2.
// Grounded in the teacher's internal/domain/integration.OAuthHandler,
// whose Login method builds an oauth2.Config and drives AuthCodeURL /
// Exchange with PKCE SetAuthURLParam options; generalized here from a
// single hardcoded CSRF state and a per-login localhost callback server
// into the keyed, swept, capacity-capped PendingAuthState map spec.md
// §4.7 requires, and informed by Bigsy-mcpmu's OAuth-needs-login
// supervisor state for how a broker interacts with process lifecycle.
package oauthbroker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/registry"
)

const (
	defaultTTL      = 10 * time.Minute
	defaultCapacity = 10_000
	sweepInterval   = 30 * time.Second
	minStateLen     = 16 // bytes of entropy; spec.md §8 rejects len < 16
)

// PendingAuthState is one in-flight login, per spec.md §3. Config is the
// oauth2.Config this login was started with, so Callback exchanges the
// code against the exact same client/endpoint/redirect_uri used to build
// the authorization URL without re-reading env vars mid-flow.
type PendingAuthState struct {
	State     string
	Verifier  string
	ServerID  string
	Config    *oauth2.Config
	CreatedAt time.Time
	TTL       time.Duration
}

func (p PendingAuthState) expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > p.TTL
}

// Broker owns the pending-auth map and performs PKCE generation and code
// exchange. It never persists tokens server-side (spec.md §4.7's security
// contract).
type Broker struct {
	log      *slog.Logger
	baseURL  string // scheme://host[:port], used to compute redirect_uri
	capacity int

	mu      sync.Mutex
	pending map[string]PendingAuthState
	order   []string // insertion order, oldest first, for overflow eviction

	stopSweep chan struct{}
}

// New builds a Broker. baseURL is the gateway's externally-visible origin,
// used to compute `{base}/{S}/auth/callback` redirect URIs (spec.md §4.7
// step 5: "redirect_uri is computed, not taken from the client").
func New(baseURL string, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	b := &Broker{
		log:       log,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		capacity:  defaultCapacity,
		pending:   make(map[string]PendingAuthState),
		stopSweep: make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

func (b *Broker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.sweep()
		case <-b.stopSweep:
			return
		}
	}
}

func (b *Broker) sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	var kept []string
	for _, st := range b.order {
		p, ok := b.pending[st]
		if !ok {
			continue
		}
		if p.expired(now) {
			delete(b.pending, st)
			continue
		}
		kept = append(kept, st)
	}
	b.order = kept
}

// Close stops the background TTL sweep.
func (b *Broker) Close() { close(b.stopSweep) }

// GeneratePKCE returns a cryptographically random verifier (43-128 URL-safe
// chars) and its S256 challenge, per spec.md §4.7 step 1. Directly
// adapted from the teacher's OAuthHandler.GeneratePKCE.
func GeneratePKCE() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err = rand.Read(raw); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

func generateState() (string, error) {
	raw := make([]byte, minStateLen)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// oauth2Config builds the per-server oauth2.Config for auth, resolving
// client credentials from the env vars it names. Mirrors the teacher's
// NewOAuthHandler, generalized to a redirect_uri computed per server_id
// (spec.md §4.7 step 5) instead of the teacher's single fixed localhost
// callback.
func (b *Broker) oauth2Config(serverID string, auth registry.AuthConfig) (*oauth2.Config, error) {
	clientID := os.Getenv(auth.ClientIDEnv)
	if clientID == "" {
		return nil, errs.New(errs.MissingClientID, "env var "+auth.ClientIDEnv+" is unset")
	}
	var clientSecret string
	if auth.ClientSecretEnv != "" {
		clientSecret = os.Getenv(auth.ClientSecretEnv)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  auth.AuthorizationURL,
			TokenURL: auth.TokenURL,
		},
		RedirectURL: fmt.Sprintf("%s/%s/auth/callback", b.baseURL, serverID),
		Scopes:      auth.Scopes,
	}, nil
}

// LoginURL implements spec.md §4.7's GET /{S}/auth/login: generates PKCE
// + state, stores the PendingAuthState, and returns the provider
// authorization URL to redirect the browser to (302). Built on
// oauth2.Config.AuthCodeURL with the PKCE challenge carried as extra
// auth-URL params, exactly as the teacher's OAuthHandler.Login does.
func (b *Broker) LoginURL(serverID string, auth registry.AuthConfig) (string, error) {
	cfg, err := b.oauth2Config(serverID, auth)
	if err != nil {
		return "", err
	}

	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "generate PKCE")
	}
	state, err := generateState()
	if err != nil {
		return "", errs.Wrap(errs.Internal, err, "generate state")
	}

	b.mu.Lock()
	if len(b.pending) >= b.capacity {
		b.evictOldestLocked()
	}
	b.pending[state] = PendingAuthState{
		State: state, Verifier: verifier, ServerID: serverID,
		Config: cfg, CreatedAt: time.Now(), TTL: defaultTTL,
	}
	b.order = append(b.order, state)
	b.mu.Unlock()

	return cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// evictOldestLocked drops the oldest pending entry, per spec.md §4.7's
// overflow policy ("oldest pending entries are evicted with
// kind=auth-overflow logged"). Caller must hold b.mu.
func (b *Broker) evictOldestLocked() {
	for len(b.order) > 0 {
		oldest := b.order[0]
		b.order = b.order[1:]
		if _, ok := b.pending[oldest]; !ok {
			continue // already consumed by a callback
		}
		delete(b.pending, oldest)
		b.log.Warn("oauthbroker: pending-auth capacity exceeded, evicting oldest", "kind", errs.AuthOverflow, "state", oldest)
		return
	}
}

// consume removes and returns the PendingAuthState for state, exactly
// once. Subsequent calls with the same state always miss — this is what
// makes replay detection structural rather than a side check.
func (b *Broker) consume(state string) (PendingAuthState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[state]
	if ok {
		delete(b.pending, state)
	}
	return p, ok
}

// Callback implements spec.md §4.7's GET /{S}/auth/callback: consumes the
// PendingAuthState, verifies server_id, exchanges the code via
// oauth2.Config.Exchange (PKCE verifier carried as an extra param exactly
// as the teacher's OAuthHandler.Login does), and returns the provider's
// token as JSON. The verifier never appears in the response, even on
// failure (spec.md §4.7's security contract).
func (b *Broker) Callback(ctx context.Context, serverID, state, code string) (json.RawMessage, error) {
	if len(state) < minStateLen {
		return nil, errs.New(errs.InvalidState, "state too short")
	}
	pending, ok := b.consume(state)
	if !ok {
		return nil, errs.New(errs.InvalidState, "unknown or already-consumed state")
	}
	if pending.ServerID != serverID {
		return nil, errs.New(errs.InvalidState, "state does not match server")
	}

	token, err := pending.Config.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", pending.Verifier))
	if err != nil {
		return nil, errs.Wrap(errs.OAuthExchange, err, "token exchange failed")
	}
	return tokenJSON(token)
}

// tokenJSON renders an *oauth2.Token back into the flat provider-shaped
// JSON object spec.md §4.7 hands to the callback's HTTP client
// (access_token/token_type/refresh_token/expires_in), since
// oauth2.Config.Exchange hands back a parsed struct rather than the raw
// response body.
func tokenJSON(token *oauth2.Token) (json.RawMessage, error) {
	out := map[string]any{"access_token": token.AccessToken}
	if token.TokenType != "" {
		out["token_type"] = token.TokenType
	}
	if token.RefreshToken != "" {
		out["refresh_token"] = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		out["expires_in"] = int64(time.Until(token.Expiry).Seconds())
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, err, "marshal token response")
	}
	return data, nil
}

// PendingCount reports the number of in-flight logins (for observability).
func (b *Broker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
