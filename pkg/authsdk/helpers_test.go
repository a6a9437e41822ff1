package authsdk

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/cryptox"
	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "11111111-2222-3333-4444-555555555555"
	testTenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"
)

// response is a canned token endpoint reply.
type response struct {
	status int
	body   any
	raw    string // sent verbatim when set
	header map[string]string
}

func tokenOK(access string, expiresIn int) response {
	return response{status: http.StatusOK, body: map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}}
}

func oauthError(status int, code string) response {
	return response{status: status, body: map[string]any{
		"error":             code,
		"error_description": "AADSTS00000: " + code + ".\r\nTrace ID: abc",
		"error_codes":       []int{0},
		"correlation_id":    "corr-1",
	}}
}

// mockIdP is an in-process identity provider recording every request.
type mockIdP struct {
	srv *httptest.Server

	mu       sync.Mutex
	forms    []url.Values
	headers  []http.Header
	token    func(n int, form url.Values) response
	device   func(form url.Values) response
	jwks     jwtx.JWKS
	jwksHits int
}

func newMockIdP(t *testing.T) *mockIdP {
	t.Helper()

	m := &mockIdP{}
	m.srv = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockIdP) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/discovery/v2.0/keys") {
		m.mu.Lock()
		m.jwksHits++
		jwks := m.jwks
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
		return
	}

	_ = r.ParseForm()

	m.mu.Lock()
	m.forms = append(m.forms, r.PostForm)
	m.headers = append(m.headers, r.Header.Clone())
	n := len(m.forms)
	token, device := m.token, m.device
	m.mu.Unlock()

	var resp response
	switch {
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/devicecode") && device != nil:
		resp = device(r.PostForm)
	case strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") && token != nil:
		resp = token(n, r.PostForm)
	default:
		resp = response{status: http.StatusNotFound, raw: "not found"}
	}

	for k, v := range resp.header {
		w.Header().Set(k, v)
	}
	if resp.raw != "" {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.raw))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.status)
	_ = json.NewEncoder(w).Encode(resp.body)
}

func (m *mockIdP) onToken(fn func(n int, form url.Values) response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = fn
}

func (m *mockIdP) onDevice(fn func(form url.Values) response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = fn
}

func (m *mockIdP) setJWKS(jwks jwtx.JWKS) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jwks = jwks
}

func (m *mockIdP) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.forms)
}

func (m *mockIdP) form(i int) url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forms[i]
}

func (m *mockIdP) header(i int) http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.headers[i]
}

func (m *mockIdP) authority(t *testing.T, tenant authority.Tenant) authority.Authority {
	t.Helper()
	a, err := authority.New(authority.AzurePublic, tenant, authority.WithHost(m.srv.URL))
	require.NoError(t, err)
	return a
}

func specificTenant(t *testing.T) authority.Tenant {
	t.Helper()
	tenant, err := authority.TenantFromID(testTenantID)
	require.NoError(t, err)
	return tenant
}

// testExecutor retries without noticeable delay.
func testExecutor(m *mockIdP) *Executor {
	exec := NewExecutor(m.srv.Client())
	exec.Logger = slogx.Discard()
	exec.Backoff = httpx.Backoff{Base: time.Millisecond, Factor: 2, Cap: 2 * time.Millisecond}
	return exec
}

func testSigner(t *testing.T) *jwtx.RS256Signer {
	t.Helper()
	keyPEM, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)
	signer, err := jwtx.NewSignerRS256("idp-key-1", keyPEM)
	require.NoError(t, err)
	return signer
}

// idToken mints an id_token for testClientID in testTenantID.
func idToken(t *testing.T, signer jwtx.Signer, issuer, nonce string) string {
	t.Helper()
	now := time.Now()
	claims := jwtx.Claims{
		Nonce:             nonce,
		TenantID:          testTenantID,
		ObjectID:          "00000000-0000-0000-66f3-3332eca7ea81",
		PreferredUsername: "adele@contoso.example",
		Version:           "2.0",
	}
	claims.Issuer = issuer
	claims.Subject = "sub-1"
	claims.Audience = []string{testClientID}
	claims.IssuedAt = jwtNumeric(now)
	claims.ExpiresAt = jwtNumeric(now.Add(time.Hour))

	tok, err := signer.Sign(claims)
	require.NoError(t, err)
	return tok
}

func jwtNumeric(t time.Time) *jwt.NumericDate { return jwt.NewNumericDate(t) }
