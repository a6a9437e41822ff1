package graph_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/graph"
	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func meHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, user{ID: "u1", DisplayName: "Adele Vance"})
}

// Concurrent calls share one token acquisition.
func TestConcurrentCallsShareOneAcquisition(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, meHandler)
	cloud.setTokenDelay(50 * time.Millisecond)
	client := cloud.client(cloud.appCredential(t))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var me user
			errs[i] = client.GetJSON(context.Background(), "/me", &me)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, cloud.tokenCalls())
	require.Equal(t, []string{"Bearer T1", "Bearer T1"}, cloud.seenAuth())

	form := cloud.tokenForm(0)
	require.Equal(t, authsdk.GrantClientCredentials, form.Get("grant_type"))
	require.Equal(t, "https://graph.microsoft.com/.default", form.Get("scope"))
}

// An expired cached token is renewed with its refresh token and never
// sent.
func TestExpiredTokenIsRefreshedBeforeUse(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cloud := newFakeCloud(t, meHandler)
	cred := authsdk.NewBuilder("11111111-2222-3333-4444-555555555555").
		Authority(cloud.authority(t)).
		Scopes("User.Read").
		RefreshToken("R-initial")
	client := cloud.client(cred)

	issued := time.Now().Add(-2 * time.Hour)
	require.NoError(t, client.Cache().Store(ctx, client.Key(), &authsdk.Token{
		AccessToken:  "T0",
		TokenType:    "Bearer",
		RefreshToken: "R0",
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(time.Hour),
	}))

	var me user
	require.NoError(t, client.GetJSON(ctx, "/me", &me))
	require.Equal(t, "Adele Vance", me.DisplayName)

	require.Equal(t, []string{"Bearer T1"}, cloud.seenAuth())
	require.Equal(t, 1, cloud.tokenCalls())
	require.Equal(t, authsdk.GrantRefreshToken, cloud.tokenForm(0).Get("grant_type"))
	require.Equal(t, "R0", cloud.tokenForm(0).Get("refresh_token"))

	// The rotated refresh token replaced R0
	rt, err := client.Cache().RefreshToken(ctx, client.Key())
	require.NoError(t, err)
	require.Equal(t, "R-T1", rt)
}

func TestRotatedRefreshTokenReachesCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cloud := newFakeCloud(t, meHandler)
	cred := authsdk.NewBuilder("11111111-2222-3333-4444-555555555555").
		Authority(cloud.authority(t)).
		Scopes("User.Read").
		RefreshToken("R-initial")
	client := cloud.client(cred)

	issued := time.Now().Add(-2 * time.Hour)
	require.NoError(t, client.Cache().Store(ctx, client.Key(), &authsdk.Token{
		AccessToken:  "T0",
		TokenType:    "Bearer",
		RefreshToken: "R0",
		IssuedAt:     issued,
		ExpiresAt:    issued.Add(time.Hour),
	}))

	var me user
	require.NoError(t, client.GetJSON(ctx, "/me", &me))
	require.Equal(t, "R0", cloud.tokenForm(0).Get("refresh_token"))
	require.Equal(t, "R-T1", cred.Current())

	// With the cache entry gone the credential redeems the rotated token,
	// not the one it was built with
	_, err := client.Cache().Evict(ctx, client.Key())
	require.NoError(t, err)

	require.NoError(t, client.GetJSON(ctx, "/me", &me))
	require.Equal(t, 2, cloud.tokenCalls())
	require.Equal(t, "R-T1", cloud.tokenForm(1).Get("refresh_token"))
	require.Equal(t, "R-T2", cred.Current())
	require.Equal(t, []string{"Bearer T1", "Bearer T2"}, cloud.seenAuth())
}

// A 401 renews the token once and replays the request.
func TestUnauthorizedRenewsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var calls atomic.Int32
	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"code": "InvalidAuthenticationToken"}})
			return
		}
		meHandler(w, r)
	})

	reg := prometheus.NewRegistry()
	metrics, err := graph.NewMetrics(reg)
	require.NoError(t, err)

	client := cloud.client(cloud.appCredential(t), graph.WithMetrics(metrics))
	require.NoError(t, client.Cache().Store(ctx, client.Key(), &authsdk.Token{
		AccessToken: "T-seeded",
		TokenType:   "Bearer",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	var me user
	require.NoError(t, client.GetJSON(ctx, "/me", &me))

	require.Equal(t, []string{"Bearer T-seeded", "Bearer T1"}, cloud.seenAuth())
	require.Equal(t, 1, cloud.tokenCalls())
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Attempts(http.StatusUnauthorized)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Attempts(http.StatusOK)))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Retries("unauthorized")))
}

func TestSecondUnauthorizedFails(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := cloud.client(cloud.appCredential(t))

	req, err := client.NewRequest(context.Background(), http.MethodGet, "/me", nil)
	require.NoError(t, err)

	_, err = client.Do(context.Background(), req)
	require.ErrorIs(t, err, graph.ErrAuthenticationFailed)
	require.Len(t, cloud.seenAuth(), 2)
	require.Equal(t, 2, cloud.tokenCalls())
}

func TestRequestBodyIsReplayed(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	client := cloud.client(cloud.appCredential(t))

	payload := `{"message":{"subject":"hello"}}`
	req, err := client.NewRequest(context.Background(), http.MethodPost, "/users/u1/sendMail", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, []string{payload, payload}, cloud.seenBodies())
}

func TestThrottlingHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		meHandler(w, r)
	})

	sleeps := &sleepRecorder{}
	client := cloud.client(cloud.appCredential(t), graph.WithSleeper(sleeps.sleep))

	var me user
	require.NoError(t, client.GetJSON(context.Background(), "/me", &me))
	require.Equal(t, []time.Duration{7 * time.Second}, sleeps.observed())
	require.Len(t, cloud.seenAuth(), 2)
}

func TestThrottlingHoldsSharedLimiter(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		meHandler(w, r)
	})

	limiter := httpx.NewRateLimiter(httpx.GraphLimit)
	client := cloud.client(cloud.appCredential(t),
		graph.WithSleeper(func(context.Context, time.Duration) error { return nil }),
		graph.WithRateLimiter(limiter))

	start := time.Now()
	var me user
	require.NoError(t, client.GetJSON(context.Background(), "/me", &me))

	// The retry waited on the limiter hold rather than the sleeper
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	require.True(t, limiter.RetryAt().After(start))
}

func TestServerErrorsRetryUpToCap(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	sleeps := &sleepRecorder{}
	client := cloud.client(cloud.appCredential(t),
		graph.WithSleeper(sleeps.sleep),
		graph.WithBackoff(httpx.Backoff{Base: time.Second, Factor: 2, Cap: 8 * time.Second}))

	req, err := client.NewRequest(context.Background(), http.MethodGet, "/me", nil)
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Len(t, cloud.seenAuth(), 1+graph.DefaultMaxRetries)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeps.observed())
}

func TestOtherStatusesAreReturned(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("request-id", "req-1")
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": map[string]any{
				"code":    "Request_ResourceNotFound",
				"message": "Resource 'x' does not exist.",
			},
		})
	})
	client := cloud.client(cloud.appCredential(t))

	var me user
	err := client.GetJSON(context.Background(), "/users/x", &me)
	require.True(t, graph.IsNotFound(err))

	var re *graph.ResponseError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "Request_ResourceNotFound", re.Code)
	require.Equal(t, "req-1", re.RequestID)
	require.Len(t, cloud.seenAuth(), 1)
}

func TestTokenErrorsSurface(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, meHandler)
	cred := authsdk.NewBuilder("11111111-2222-3333-4444-555555555555").
		Authority(cloud.authority(t)).
		Scopes("User.Read", "Mail.Read"). // not a .default scope
		ClientSecret("s")
	client := cloud.client(cred)

	var me user
	err := client.GetJSON(context.Background(), "/me", &me)
	require.ErrorIs(t, err, authsdk.ErrInvalidConfig)
	require.Zero(t, cloud.tokenCalls())
	require.Empty(t, cloud.seenAuth())
}

func TestTokenSource(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, meHandler)
	client := cloud.client(cloud.appCredential(t))

	ts := client.TokenSource(context.Background())
	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "T1", tok.AccessToken)
	require.Empty(t, tok.RefreshToken)
	require.True(t, tok.Valid())

	again, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "T1", again.AccessToken)
	require.Equal(t, 1, cloud.tokenCalls())
}

func TestDefaultBaseURLFollowsCloud(t *testing.T) {
	t.Parallel()

	cloud := newFakeCloud(t, meHandler)
	client := graph.New(cloud.appCredential(t))

	req, err := client.NewRequest(context.Background(), http.MethodGet, "me/messages", nil)
	require.NoError(t, err)
	require.Equal(t, "https://graph.microsoft.com/v1.0/me/messages", req.URL.String())

	next, err := client.NewRequest(context.Background(), http.MethodGet, "https://graph.microsoft.com/v1.0/users?$skiptoken=abc", nil)
	require.NoError(t, err)
	require.Equal(t, "abc", next.URL.Query().Get("$skiptoken"))
}
