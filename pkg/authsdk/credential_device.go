package authsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/httpx"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

const (
	// defaultPollInterval applies when the provider omits interval
	defaultPollInterval = 5 * time.Second

	// slowDownStep is added to the interval on every slow_down
	slowDownStep = 5 * time.Second
)

// DeviceStage is the position of a device code credential in its lifecycle.
type DeviceStage int

const (
	DeviceConfiguring DeviceStage = iota
	DeviceCodeIssued
	DevicePolling
	DeviceTokenAcquired
	DeviceExpired
)

func (s DeviceStage) String() string {
	switch s {
	case DeviceConfiguring:
		return "configuring"
	case DeviceCodeIssued:
		return "device_code_issued"
	case DevicePolling:
		return "polling"
	case DeviceTokenAcquired:
		return "token_acquired"
	case DeviceExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// DeviceCode is what the user needs to complete sign-in on another device.
type DeviceCode struct {
	// DeviceCode is secret; it is redeemed by Poll
	DeviceCode      string
	UserCode        string
	VerificationURI string
	Message         string
	Interval        time.Duration
	ExpiresIn       time.Duration
	ExpiresAt       time.Time
}

// LogValue keeps the device code out of log records.
func (d DeviceCode) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_code", d.UserCode),
		slog.String("verification_uri", d.VerificationURI),
		slog.Time("expires_at", d.ExpiresAt),
	)
}

// DeviceCodeCredential drives the device authorization grant (RFC 8628):
//
//	Configuring -> DeviceCodeIssued -> Polling -> TokenAcquired | Expired
type DeviceCodeCredential struct {
	common
	opts options

	mu           sync.Mutex
	stage        DeviceStage
	code         DeviceCode
	refreshToken string

	// Now is the clock for the expiry deadline; tests pin it
	Now func() time.Time
}

func (c *DeviceCodeCredential) Flow() authority.Flow { return authority.FlowDeviceCode }
func (c *DeviceCodeCredential) AccountHint() string  { return "" }

func (c *DeviceCodeCredential) Scopes() *scope.Set {
	return c.scopesFor(authority.FlowDeviceCode)
}

// Stage returns the current lifecycle stage.
func (c *DeviceCodeCredential) Stage() DeviceStage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

func (c *DeviceCodeCredential) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *DeviceCodeCredential) sleep(ctx context.Context, d time.Duration) error {
	if c.opts.sleep != nil {
		return c.opts.sleep(ctx, d)
	}
	return httpx.Sleep(ctx, d)
}

func (c *DeviceCodeCredential) validate() error {
	return c.validateOnce(authority.FlowDeviceCode, func() error {
		return c.requireScopes(authority.FlowDeviceCode)
	})
}

// form serializes the device authorization request (TargetAuthorizeQuery)
// or the polling request (TargetTokenForm). Must be called with c.mu held.
func (c *DeviceCodeCredential) form(target Target) (*Form, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	switch target {
	case TargetAuthorizeQuery:
		f := NewForm().
			Required("client_id", c.clientID).
			Required("scope", c.Scopes().String())
		return c.finish(f)
	case TargetTokenForm:
		f := NewForm().
			Required("client_id", c.clientID).
			Required("grant_type", GrantDeviceCode).
			Required("device_code", c.code.DeviceCode)
		if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
			return nil, err
		}
		return c.finish(f)
	}
	return nil, notSupported(c.Flow(), target)
}

func (c *DeviceCodeCredential) serialize(target Target) (*Form, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form(target)
}

// Start requests a device code. It is legal in Configuring and, to restart
// the flow, in Expired.
func (c *DeviceCodeCredential) Start(ctx context.Context, exec *Executor) (DeviceCode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start(ctx, exec)
}

func (c *DeviceCodeCredential) start(ctx context.Context, exec *Executor) (DeviceCode, error) {
	if c.stage != DeviceConfiguring && c.stage != DeviceExpired {
		return DeviceCode{}, fmt.Errorf("%w: device code already issued (stage %s)", ErrInvalidState, c.stage)
	}

	f, err := c.form(TargetAuthorizeQuery)
	if err != nil {
		return DeviceCode{}, err
	}

	issued := c.now()
	resp, err := exec.requestDeviceCode(ctx, f, c.authority.DeviceCodeURL())
	if err != nil {
		return DeviceCode{}, err
	}

	uri := resp.VerificationURI
	if uri == "" {
		uri = resp.VerificationURL
	}
	interval := resp.Interval.Duration()
	if interval <= 0 {
		interval = defaultPollInterval
	}

	c.code = DeviceCode{
		DeviceCode:      resp.DeviceCode,
		UserCode:        resp.UserCode,
		VerificationURI: uri,
		Message:         resp.Message,
		Interval:        interval,
		ExpiresIn:       resp.ExpiresIn.Duration(),
		ExpiresAt:       issued.Add(resp.ExpiresIn.Duration()),
	}
	c.stage = DeviceCodeIssued
	return c.code, nil
}

// Poll waits for the user to finish signing in. The interval starts at the
// provider's value and grows by five seconds on every slow_down. Waits are
// cut short at the code's expiry, after which Poll returns
// ErrDeviceCodeExpired without sending another request.
func (c *DeviceCodeCredential) Poll(ctx context.Context, exec *Executor) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poll(ctx, exec)
}

func (c *DeviceCodeCredential) poll(ctx context.Context, exec *Executor) (*Token, error) {
	if c.stage != DeviceCodeIssued && c.stage != DevicePolling {
		return nil, fmt.Errorf("%w: no device code to poll (stage %s)", ErrInvalidState, c.stage)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	c.stage = DevicePolling
	interval := c.code.Interval
	log := c.log().With(slog.String("client_id", c.clientID))

	for {
		remaining := c.code.ExpiresAt.Sub(c.now())
		if remaining <= 0 {
			c.stage = DeviceExpired
			return nil, ErrDeviceCodeExpired
		}

		if err := c.sleep(ctx, min(interval, remaining)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		// No poll is sent once the code has expired
		if !c.now().Before(c.code.ExpiresAt) {
			c.stage = DeviceExpired
			return nil, ErrDeviceCodeExpired
		}

		// Rebuilt per poll so a client assertion never outlives its exp
		f, err := c.form(TargetTokenForm)
		if err != nil {
			return nil, err
		}

		tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
		switch {
		case err == nil:
			annotateHomeAccount(tok)
			c.refreshToken = tok.RefreshToken
			c.stage = DeviceTokenAcquired
			c.code = DeviceCode{}
			log.Info("device code sign-in completed", slog.Time("expires_at", tok.ExpiresAt))
			return tok, nil

		case IsAuthorizationPending(err):
			continue

		case IsSlowDown(err):
			interval += slowDownStep
			log.Debug("device code poll slowed down", slog.Duration("interval", interval))
			continue

		case errors.Is(err, ErrExpiredToken):
			c.stage = DeviceExpired
			return nil, fmt.Errorf("%w: %w", ErrDeviceCodeExpired, err)

		default:
			return nil, err
		}
	}
}

// SetRefreshToken adopts a refresh token redeemed elsewhere. A credential
// with no device code outstanding moves to TokenAcquired so AcquireToken
// renews with it.
func (c *DeviceCodeCredential) SetRefreshToken(refreshToken string) {
	if refreshToken == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshToken = refreshToken
	switch c.stage {
	case DeviceConfiguring, DeviceExpired:
		c.stage = DeviceTokenAcquired
		c.code = DeviceCode{}
	}
}

// AcquireToken runs the whole flow: it starts a device authorization,
// reports the user code through the callback and polls. Once a token was
// acquired it renews with the refresh token instead; a rejected refresh
// token is dropped and the error returned, and the next call starts over.
func (c *DeviceCodeCredential) AcquireToken(ctx context.Context, exec *Executor) (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stage == DeviceTokenAcquired && c.refreshToken != "" {
		tok, err := Refresh(ctx, exec, c, c.refreshToken)
		if err != nil {
			if IsInvalidGrant(err) {
				c.refreshToken = ""
				c.stage = DeviceConfiguring
			}
			return nil, err
		}
		if tok.RefreshToken != "" {
			c.refreshToken = tok.RefreshToken
		}
		return tok, nil
	}

	if c.stage == DeviceTokenAcquired {
		c.stage = DeviceConfiguring
	}

	dc, err := c.start(ctx, exec)
	if err != nil {
		return nil, err
	}

	if c.opts.onDeviceCode != nil {
		c.opts.onDeviceCode(dc)
	} else {
		c.log().Info(dc.Message, slog.Any("device_code", dc))
	}

	return c.poll(ctx, exec)
}
