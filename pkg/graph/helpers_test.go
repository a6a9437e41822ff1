package graph_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/graph"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/stretchr/testify/require"
)

const testTenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"

// fakeCloud serves both the token endpoint and the Graph API.
type fakeCloud struct {
	srv *httptest.Server

	mu          sync.Mutex
	tokenForms  []url.Values
	tokenDelay  time.Duration
	tokens      []string // access tokens handed out in order
	graphAuth   []string // Authorization headers seen by Graph
	graphBodies []string
	graph       http.HandlerFunc
}

func newFakeCloud(t *testing.T, graphHandler http.HandlerFunc) *fakeCloud {
	t.Helper()

	f := &fakeCloud{graph: graphHandler, tokens: []string{"T1", "T2", "T3", "T4"}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
		_ = r.ParseForm()
		f.mu.Lock()
		f.tokenForms = append(f.tokenForms, r.PostForm)
		access := f.tokens[len(f.tokenForms)-1]
		delay := f.tokenDelay
		f.mu.Unlock()

		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "R-" + access,
		})
		return
	}

	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.graphAuth = append(f.graphAuth, r.Header.Get("Authorization"))
	f.graphBodies = append(f.graphBodies, string(body))
	handler := f.graph
	f.mu.Unlock()

	handler(w, r)
}

func (f *fakeCloud) tokenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokenForms)
}

func (f *fakeCloud) tokenForm(i int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenForms[i]
}

func (f *fakeCloud) seenAuth() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.graphAuth...)
}

func (f *fakeCloud) seenBodies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.graphBodies...)
}

func (f *fakeCloud) setTokenDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenDelay = d
}

func (f *fakeCloud) authority(t *testing.T) authority.Authority {
	t.Helper()
	tenant, err := authority.TenantFromID(testTenantID)
	require.NoError(t, err)
	a, err := authority.New(authority.AzurePublic, tenant, authority.WithHost(f.srv.URL))
	require.NoError(t, err)
	return a
}

func (f *fakeCloud) appCredential(t *testing.T) authsdk.Credential {
	t.Helper()
	return authsdk.NewBuilder("11111111-2222-3333-4444-555555555555").
		Authority(f.authority(t)).
		Scopes("https://graph.microsoft.com/.default").
		ClientSecret("s")
}

func (f *fakeCloud) client(cred authsdk.Credential, opts ...graph.Option) *graph.Client {
	exec := authsdk.NewExecutor(f.srv.Client())
	exec.Logger = slogx.Discard()

	base := []graph.Option{
		graph.WithHTTPClient(f.srv.Client()),
		graph.WithExecutor(exec),
		graph.WithBaseURL(f.srv.URL + "/v1.0"),
		graph.WithLogger(slogx.Discard()),
		graph.WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	}
	return graph.New(cred, append(base, opts...)...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sleepRecorder records retry delays without waiting.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) observed() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
