package oauthbroker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluidmcp/gateway/internal/errs"
	"github.com/fluidmcp/gateway/internal/registry"
)

func testAuth(authURL, tokenURL string) registry.AuthConfig {
	return registry.AuthConfig{
		AuthorizationURL: authURL,
		TokenURL:         tokenURL,
		Scopes:           []string{"read", "write"},
		ClientIDEnv:      "TEST_OAUTH_CLIENT_ID",
		ClientSecretEnv:  "TEST_OAUTH_CLIENT_SECRET",
		RedirectPath:     "/auth/callback",
	}
}

func TestGeneratePKCEProducesMatchingChallenge(t *testing.T) {
	v1, c1, err := GeneratePKCE()
	require.NoError(t, err)
	v2, c2, err := GeneratePKCE()
	require.NoError(t, err)

	assert.NotEmpty(t, v1)
	assert.NotEmpty(t, c1)
	assert.NotEqual(t, v1, v2, "verifiers must be freshly random per call")
	assert.NotEqual(t, c1, c2)
	assert.NotEqual(t, v1, c1, "challenge must not equal the raw verifier")
}

func TestLoginURLRequiresClientIDEnv(t *testing.T) {
	b := New("http://gw.test", nil)
	defer b.Close()

	_, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", "https://provider.test/token"))
	require.Error(t, err)
	assert.Equal(t, errs.MissingClientID, errs.KindOf(err))
}

func TestLoginURLBuildsCorrectRedirectAndParams(t *testing.T) {
	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()

	raw, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", "https://provider.test/token"))
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "abc123", q.Get("client_id"))
	assert.Equal(t, "http://gw.test/srv-1/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("state"))
	assert.GreaterOrEqual(t, len(q.Get("state")), minStateLen)

	assert.Equal(t, 1, b.PendingCount())
}

func TestCallbackRejectsShortState(t *testing.T) {
	b := New("http://gw.test", nil)
	defer b.Close()

	_, err := b.Callback(context.Background(), "srv-1", "short", "code")
	assert.Equal(t, errs.InvalidState, errs.KindOf(err))
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	b := New("http://gw.test", nil)
	defer b.Close()

	_, err := b.Callback(context.Background(), "srv-1", "0123456789abcdef0123456789abcdef", "code")
	assert.Equal(t, errs.InvalidState, errs.KindOf(err))
}

func TestCallbackIsSingleUse(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer"}`))
	}))
	defer tokenSrv.Close()

	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()

	raw, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", tokenSrv.URL))
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	body, err := b.Callback(context.Background(), "srv-1", state, "the-code")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"tok-1","token_type":"Bearer"}`, string(body))

	// Replaying the same state must fail: it was consumed by the first call.
	_, err = b.Callback(context.Background(), "srv-1", state, "the-code")
	assert.Equal(t, errs.InvalidState, errs.KindOf(err))
}

func TestCallbackRejectsMismatchedServerID(t *testing.T) {
	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()

	raw, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", "https://provider.test/token"))
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	_, err = b.Callback(context.Background(), "srv-2", state, "the-code")
	assert.Equal(t, errs.InvalidState, errs.KindOf(err))
}

func TestCallbackSurfacesProviderErrorAsOAuthExchange(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenSrv.Close()

	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()

	raw, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", tokenSrv.URL))
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	_, err = b.Callback(context.Background(), "srv-1", state, "bad-code")
	assert.Equal(t, errs.OAuthExchange, errs.KindOf(err))
}

func TestEvictOldestWhenOverCapacity(t *testing.T) {
	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()
	b.capacity = 2

	auth := testAuth("https://provider.test/authorize", "https://provider.test/token")
	_, err := b.LoginURL("srv-1", auth)
	require.NoError(t, err)
	_, err = b.LoginURL("srv-2", auth)
	require.NoError(t, err)
	assert.Equal(t, 2, b.PendingCount())

	_, err = b.LoginURL("srv-3", auth)
	require.NoError(t, err)
	assert.Equal(t, 2, b.PendingCount(), "oldest entry must be evicted, not appended past capacity")
}

func TestSweepExpiresOldEntries(t *testing.T) {
	t.Setenv("TEST_OAUTH_CLIENT_ID", "abc123")
	b := New("http://gw.test", nil)
	defer b.Close()

	raw, err := b.LoginURL("srv-1", testAuth("https://provider.test/authorize", "https://provider.test/token"))
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	state := parsed.Query().Get("state")

	b.mu.Lock()
	p := b.pending[state]
	p.CreatedAt = time.Now().Add(-2 * defaultTTL)
	b.pending[state] = p
	b.mu.Unlock()

	b.sweep()
	assert.Equal(t, 0, b.PendingCount())
}
