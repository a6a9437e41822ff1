// Package tokencache caches access and refresh tokens per credential and
// deduplicates concurrent acquisitions of the same token.
package tokencache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authsdk"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
	"golang.org/x/sync/singleflight"
)

// ErrCancelled is returned to a GetOrAcquire caller whose context ended
// before the acquisition it waited for finished.
var ErrCancelled = authsdk.ErrCancelled

// Entry is the stored form of a cached token.
type Entry struct {
	Key           string         `json:"key"`
	Token         *authsdk.Token `json:"token,omitempty"`
	AccountID     string         `json:"account_id,omitempty"`
	HomeAccountID string         `json:"home_account_id,omitempty"`
}

// AcquireFunc obtains a fresh token. It runs on a context that stays alive
// while at least one caller still waits for the result.
type AcquireFunc func(ctx context.Context) (*authsdk.Token, error)

// Cache maps keys to tokens. Lookups return only tokens that have not
// expired; the refresh token of an entry survives access token replacement.
type Cache struct {
	store   Store[Entry]
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	// writeMu orders read-modify-write cycles against the store
	writeMu sync.Mutex

	group   singleflight.Group
	mu      sync.Mutex
	flights map[string]*flight
	seq     uint64
}

// flight is the shared context of one acquisition. The last waiter to leave
// cancels it; it stays registered until its acquisition returns, so a
// cancelled flight still blocks new ones for the same key.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	call    string
	waiters int
	done    chan struct{}

	// set before done is closed
	tok *authsdk.Token
	err error
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore replaces the default in-memory store.
func WithStore(s Store[Entry]) Option {
	return func(c *Cache) { c.store = s }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics records lookups and acquisitions on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache backed by a MemoryStore unless WithStore is given.
func New(opts ...Option) *Cache {
	c := &Cache{
		store:   NewMemoryStore[Entry](),
		now:     time.Now,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = slogx.OrDefault(c.logger)
	return c
}

// Get returns the live token under key. Expired tokens are never returned.
func (c *Cache) Get(ctx context.Context, key Key) (*authsdk.Token, bool, error) {
	id := key.String()
	tok, err := c.live(ctx, id)
	if err != nil {
		return nil, false, err
	}

	c.metrics.lookup(tok != nil)
	c.logger.Debug("token cache lookup",
		slog.String("client_id", key.ClientID),
		slog.String("tenant", key.Tenant),
		slog.Bool("hit", tok != nil))
	return tok, tok != nil, nil
}

func (c *Cache) live(ctx context.Context, id string) (*authsdk.Token, error) {
	e, ok, err := c.store.Get(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	if !e.Token.Valid(c.now()) {
		return nil, nil
	}
	return e.Token.Clone(), nil
}

// Store saves tok under key. When tok carries no refresh token the one
// already stored is kept.
func (c *Cache) Store(ctx context.Context, key Key, tok *authsdk.Token) error {
	if tok == nil {
		return fmt.Errorf("tokencache: nil token")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.storeLocked(ctx, key, tok)
}

func (c *Cache) storeLocked(ctx context.Context, key Key, tok *authsdk.Token) error {
	id := key.String()
	tok = tok.Clone()

	if tok.RefreshToken == "" {
		prev, ok, err := c.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if ok && prev.Token != nil {
			tok.RefreshToken = prev.Token.RefreshToken
		}
	}

	return c.store.Store(ctx, id, Entry{
		Key:           id,
		Token:         tok,
		AccountID:     key.AccountID,
		HomeAccountID: tok.HomeAccountID,
	})
}

// Evict removes the entry under key, refresh token included, and returns
// the token it held.
func (c *Cache) Evict(ctx context.Context, key Key) (*authsdk.Token, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	e, ok, err := c.store.Evict(ctx, key.String())
	if err != nil || !ok {
		return nil, err
	}
	return e.Token, nil
}

// EvictAccessToken drops the access token under key but keeps the refresh
// token, so the next acquisition can redeem it.
func (c *Cache) EvictAccessToken(ctx context.Context, key Key) error {
	return c.update(ctx, key, func(t *authsdk.Token) {
		t.AccessToken = ""
		t.ExpiresAt = time.Time{}
	})
}

// RefreshToken returns the refresh token stored under key, or "".
func (c *Cache) RefreshToken(ctx context.Context, key Key) (string, error) {
	e, ok, err := c.store.Get(ctx, key.String())
	if err != nil || !ok || e.Token == nil {
		return "", err
	}
	return e.Token.RefreshToken, nil
}

// EvictRefreshToken drops the refresh token under key, typically after the
// identity provider rejected it with invalid_grant.
func (c *Cache) EvictRefreshToken(ctx context.Context, key Key) error {
	return c.update(ctx, key, func(t *authsdk.Token) { t.RefreshToken = "" })
}

func (c *Cache) update(ctx context.Context, key Key, fn func(*authsdk.Token)) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	id := key.String()
	e, ok, err := c.store.Get(ctx, id)
	if err != nil || !ok || e.Token == nil {
		return err
	}

	tok := e.Token.Clone()
	fn(tok)
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		_, _, err := c.store.Evict(ctx, id)
		return err
	}
	e.Token = tok
	return c.store.Store(ctx, id, e)
}

// InFlight reports whether an acquisition for key is running.
func (c *Cache) InFlight(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[key.String()]
	return ok
}

// GetOrAcquire returns the live token under key or runs acquire to obtain
// one. Concurrent callers for the same key share a single acquisition and
// its result. The acquisition continues while any caller still waits; a
// caller whose ctx ends gets ErrCancelled. The store is only written when
// the acquisition succeeds.
func (c *Cache) GetOrAcquire(ctx context.Context, key Key, acquire AcquireFunc) (*authsdk.Token, error) {
	if tok, ok, err := c.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return tok, nil
	}

	id := key.String()
	f, err := c.join(ctx, id)
	if err != nil {
		return nil, err
	}

	ch := c.group.DoChan(f.call, func() (any, error) {
		return c.run(id, key, f, acquire)
	})

	select {
	case res := <-ch:
		c.leave(f)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*authsdk.Token).Clone(), nil
	case <-ctx.Done():
		c.leave(f)
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
}

// run executes the flight once. A waiter that joined just before the flight
// ended reaches it again through the group and gets the recorded result.
func (c *Cache) run(id string, key Key, f *flight, acquire AcquireFunc) (tok *authsdk.Token, err error) {
	select {
	case <-f.done:
		return f.tok, f.err
	default:
	}
	defer func() { c.finish(id, f, tok, err) }()

	// A flight that finished between our lookup and join already stored a
	// token
	if tok, err := c.live(f.ctx, id); err == nil && tok != nil {
		return tok, nil
	}
	return c.acquire(f.ctx, key, acquire)
}

func (c *Cache) acquire(ctx context.Context, key Key, acquire AcquireFunc) (*authsdk.Token, error) {
	log := c.logger.With(
		slog.String("client_id", key.ClientID),
		slog.String("tenant", key.Tenant))

	start := time.Now()
	c.metrics.acquireStarted()
	tok, err := acquire(ctx)
	c.metrics.acquireDone(start, err)
	if ctx.Err() != nil {
		// Every waiter has left; the cache keeps what it held before
		log.Debug("discarding result of cancelled token acquisition")
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if err != nil {
		log.Info("token acquisition failed", slog.String("error", err.Error()))
		return nil, err
	}
	if tok == nil {
		return nil, fmt.Errorf("tokencache: acquisition returned no token")
	}

	if err := c.Store(ctx, key, tok); err != nil {
		// The token is still good for the callers waiting on it
		log.Warn("failed to store acquired token", slog.String("error", err.Error()))
	}

	log.Info("token acquired",
		slog.Time("expires_at", tok.ExpiresAt),
		slog.Duration("duration", time.Since(start)))
	return tok, nil
}

// join registers a waiter on the flight for id, creating it if needed. A
// flight whose waiters all left is draining: join waits for it to return
// before starting the next one.
func (c *Cache) join(ctx context.Context, id string) (*flight, error) {
	for {
		c.mu.Lock()
		f, ok := c.flights[id]
		if ok && f.ctx.Err() == nil {
			f.waiters++
			c.mu.Unlock()
			return f, nil
		}
		if !ok {
			c.seq++
			fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			f = &flight{
				ctx:     fctx,
				cancel:  cancel,
				call:    id + "#" + strconv.FormatUint(c.seq, 10),
				waiters: 1,
				done:    make(chan struct{}),
			}
			c.flights[id] = f
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		select {
		case <-f.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
	}
}

// leave unregisters a waiter. The last one cancels the flight.
func (c *Cache) leave(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters == 0 {
		f.cancel()
	}
}

// finish runs when the acquisition returns.
func (c *Cache) finish(id string, f *flight, tok *authsdk.Token, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights[id] == f {
		delete(c.flights, id)
	}
	f.tok, f.err = tok, err
	close(f.done)
}
