// Package graph sends authenticated requests to Microsoft Graph. Tokens
// come from a tokencache.Cache and are renewed when Graph rejects them;
// throttling and transient server faults are retried.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/aussiebroadwan/graphauth/pkg/idx"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"github.com/aussiebroadwan/graphauth/pkg/tokencache"
)

// DefaultMaxRetries caps retries of throttled and failed requests.
const DefaultMaxRetries = 3

// APIVersion is the Graph version requests are resolved against.
const APIVersion = "v1.0"

// Client is an authenticated Graph client bound to one credential.
type Client struct {
	cred  authsdk.Credential
	key   tokencache.Key
	exec  *authsdk.Executor
	cache *tokencache.Cache

	httpClient *http.Client
	baseURL    string
	limiter    *httpx.RateLimiter
	backoff    httpx.Backoff
	maxRetries int
	timeout    time.Duration
	sleep      authsdk.Sleeper

	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for Graph requests and, unless
// WithExecutor is given, for the token endpoint.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExecutor sets the token endpoint executor.
func WithExecutor(exec *authsdk.Executor) Option {
	return func(c *Client) { c.exec = exec }
}

// WithCache shares a token cache between clients.
func WithCache(cache *tokencache.Cache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithBaseURL replaces the per-cloud Graph endpoint, e.g. for the beta API.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRateLimiter paces requests on the client side.
func WithRateLimiter(l *httpx.RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBackoff sets the delays used when Graph sends no Retry-After.
func WithBackoff(b httpx.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithMaxRetries caps retries of 429 and 5xx responses.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = max(n, 0) }
}

// WithTimeout bounds each attempt. Off by default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSleeper replaces the wait between retries; tests use it to observe
// delays.
func WithSleeper(s authsdk.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records attempts and retries on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a client acquiring tokens with cred.
func New(cred authsdk.Credential, opts ...Option) *Client {
	c := &Client{
		cred:       cred,
		key:        tokencache.KeyFor(cred),
		baseURL:    "https://" + cred.Authority().Cloud().GraphHost() + "/" + APIVersion,
		backoff:    httpx.DefaultBackoff,
		maxRetries: DefaultMaxRetries,
		sleep:      httpx.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.logger = slogx.OrDefault(c.logger)
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: slogx.NewTransport(nil, c.logger)}
	}
	if c.exec == nil {
		c.exec = authsdk.NewExecutor(c.httpClient)
		c.exec.Logger = c.logger
	}
	if c.cache == nil {
		c.cache = tokencache.New(tokencache.WithLogger(c.logger))
	}
	return c
}

// Key returns the cache key of the bound credential.
func (c *Client) Key() tokencache.Key { return c.key }

// Cache returns the token cache.
func (c *Client) Cache() *tokencache.Cache { return c.cache }

// Token returns a live access token, acquiring one when needed.
func (c *Client) Token(ctx context.Context) (*authsdk.Token, error) {
	return c.cache.GetOrAcquire(ctx, c.key, c.acquire)
}

// acquire redeems the cached refresh token when there is one and falls
// back to the credential's own grant otherwise. The refresh token that is
// current afterwards is handed back to the credential, so it still holds a
// valid one once the cache entry is evicted.
func (c *Client) acquire(ctx context.Context) (*authsdk.Token, error) {
	rt, err := c.cache.RefreshToken(ctx, c.key)
	if err != nil {
		c.logger.Warn("failed to read cached refresh token", slog.String("error", err.Error()))
	}

	if rt != "" && c.cred.Flow().Delegated() {
		tok, err := authsdk.Refresh(ctx, c.exec, c.cred, rt)
		if err != nil {
			if authsdk.IsInvalidGrant(err) {
				if eerr := c.cache.EvictRefreshToken(ctx, c.key); eerr != nil {
					c.logger.Warn("failed to evict refresh token", slog.String("error", eerr.Error()))
				}
			}
			return nil, err
		}

		if h, ok := c.cred.(authsdk.RefreshTokenHolder); ok {
			current := tok.RefreshToken
			if current == "" {
				current = rt
			}
			h.SetRefreshToken(current)
		}
		return tok, nil
	}

	return c.cred.AcquireToken(ctx, c.exec)
}

// NewRequest builds a request for path, which is either relative to the
// Graph base URL ("/me/messages") or absolute (an @odata.nextLink).
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := path
	if !strings.HasPrefix(path, "https://") && !strings.HasPrefix(path, "http://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// GetJSON fetches path and decodes the response into out. Non-2xx
// responses are returned as *ResponseError.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newResponseError(resp)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("graph: failed to decode response: %w", err)
	}
	return nil
}

// Do sends req with a bearer token. A 401 renews the token once and
// replays the request; a second 401 is ErrAuthenticationFailed. 429 and
// 5xx responses are retried up to the retry cap, waiting for Retry-After
// when Graph sends it. Any other response is returned as is and the caller
// must close its body.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	requestID := req.Header.Get("client-request-id")
	if requestID == "" {
		requestID = idx.New().GUID()
	}
	log := c.logger.With(
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("client_request_id", requestID))

	renewed := false
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		tok, err := c.Token(ctx)
		if err != nil {
			return nil, err
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
		}

		resp, err := c.send(ctx, req, body, requestID, tok)
		if err != nil {
			return nil, err
		}
		c.metrics.attempt(resp.StatusCode)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			if renewed {
				log.Warn("graph rejected renewed token")
				return nil, fmt.Errorf("%w: %s %s returned 401 after token renewal", ErrAuthenticationFailed, req.Method, req.URL.Path)
			}
			renewed = true
			c.metrics.retry("unauthorized")
			log.Info("graph rejected access token, renewing")
			if err := c.cache.EvictAccessToken(ctx, c.key); err != nil {
				return nil, err
			}
			continue

		case httpx.IsRetryableStatus(resp.StatusCode) && retries < c.maxRetries:
			delay, ok := httpx.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			if !ok {
				delay = c.backoff.Delay(retries)
			}
			reason := "server_error"
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = "throttled"
				if c.limiter != nil {
					c.limiter.Hold(delay)
				}
			}
			drain(resp)

			retries++
			c.metrics.retry(reason)
			log.Warn("graph request failed, retrying",
				slog.Int("status", resp.StatusCode),
				slog.Int("retry", retries),
				slog.Duration("delay", delay))

			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			continue
		}

		return resp, nil
	}
}

// send performs one attempt.
func (c *Client) send(ctx context.Context, req *http.Request, body []byte, requestID string, tok *authsdk.Token) (*http.Response, error) {
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}

	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		attempt.ContentLength = int64(len(body))
	}
	attempt.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
	attempt.Header.Set("client-request-id", requestID)

	resp, err := c.httpClient.Do(attempt)
	if err != nil {
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return nil, fmt.Errorf("graph: %s %s: %w", req.Method, req.URL.Path, err)
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// bufferBody reads the request body so every attempt can replay it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to read request body: %w", err)
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// cancelOnClose releases the attempt's timeout once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
