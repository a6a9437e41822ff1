package authsdk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
	"github.com/aussiebroadwan/graphauth/pkg/slogx"
)

// Credential is one configured OAuth2 grant. The set of implementations is
// closed: AuthCodeCredential, ClientCredential, DeviceCodeCredential,
// OnBehalfOfCredential, PasswordCredential and RefreshTokenCredential.
type Credential interface {
	// Flow identifies the grant.
	Flow() authority.Flow

	// Authority is the resolved identity provider endpoint set.
	Authority() authority.Authority

	ClientID() string

	// Scopes returns the scopes sent on the wire, after the offline_access
	// policy was applied.
	Scopes() *scope.Set

	// AccountHint distinguishes tokens of different users acquired with the
	// same client and scopes. Empty for app-only flows.
	AccountHint() string

	// AcquireToken runs the grant against the token endpoint.
	AcquireToken(ctx context.Context, exec *Executor) (*Token, error)

	form(target Target) (*Form, error)
	validate() error
	base() *common
}

// RefreshTokenHolder is implemented by the delegated credentials that keep a
// refresh token between acquisitions. Callers that redeem a refresh token on
// a credential's behalf hand the rotated one back through it.
type RefreshTokenHolder interface {
	// SetRefreshToken replaces the held refresh token. Empty values are
	// ignored.
	SetRefreshToken(refreshToken string)
}

var (
	_ RefreshTokenHolder = (*AuthCodeCredential)(nil)
	_ RefreshTokenHolder = (*DeviceCodeCredential)(nil)
	_ RefreshTokenHolder = (*RefreshTokenCredential)(nil)
)

// Serialize produces the parameter list credential sends for target. It is
// the same list AcquireToken posts, so it can be used to inspect a request
// without sending it.
func Serialize(c Credential, target Target) (*Form, error) {
	if s, ok := c.(lockedSerializer); ok {
		return s.serialize(target)
	}
	return c.form(target)
}

// lockedSerializer is implemented by stateful flows whose form reads state
// guarded by their mutex.
type lockedSerializer interface {
	serialize(target Target) (*Form, error)
}

// ============================================================================
// Shared Credential State
// ============================================================================

// common is the configuration shared by every flow.
type common struct {
	clientID    string
	authority   authority.Authority
	authErr     error
	requested   *scope.Set
	policy      scope.OfflineAccessPolicy
	redirectURI string
	extra       map[string]string
	auth        clientAuth
	logger      *slog.Logger

	once        sync.Once
	validateErr error
}

func (c *common) base() *common                  { return c }
func (c *common) Authority() authority.Authority { return c.authority }
func (c *common) ClientID() string               { return c.clientID }

func (c *common) scopesFor(flow authority.Flow) *scope.Set {
	return c.requested.ApplyOfflineAccess(c.policy, flow.Delegated())
}

func (c *common) log() *slog.Logger {
	return slogx.OrDefault(c.logger)
}

// validateOnce runs the flow independent checks plus check exactly once;
// every later call returns the first result.
func (c *common) validateOnce(flow authority.Flow, check func() error) error {
	c.once.Do(func() {
		c.validateErr = c.doValidate(flow, check)
		if c.validateErr != nil {
			c.log().Debug("credential configuration rejected",
				slog.String("flow", flow.String()),
				slog.String("error", c.validateErr.Error()))
		}
	})
	return c.validateErr
}

func (c *common) doValidate(flow authority.Flow, check func() error) error {
	if c.authErr != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, c.authErr)
	}
	if c.clientID == "" {
		return &MissingParameterError{Name: "client_id"}
	}
	if c.authority.IsZero() {
		return fmt.Errorf("%w: no authority", ErrInvalidConfig)
	}
	if err := c.authority.Validate(flow); err != nil {
		return err
	}
	if err := c.auth.validate(); err != nil {
		return err
	}
	if check != nil {
		return check()
	}
	return nil
}

// requireScopes rejects an empty requested scope set.
func (c *common) requireScopes(flow authority.Flow) error {
	if c.requested.IsEmpty() {
		return fmt.Errorf("%w: %s requires at least one scope", ErrInvalidConfig, flow)
	}
	return nil
}

// finish appends extra parameters, logs any that were dropped and checks
// that every required parameter has a value.
func (c *common) finish(f *Form) (*Form, error) {
	f.Extra(c.extra)
	if dropped := f.Dropped(); len(dropped) > 0 {
		c.log().Debug("extra parameters collide with standard names and were dropped",
			slog.Any("params", dropped))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// refreshForm builds a refresh_token grant for this client registration.
func (c *common) refreshForm(refreshToken string) (*Form, error) {
	f := NewForm().
		Required("client_id", c.clientID).
		Required("grant_type", GrantRefreshToken).
		Optional("scope", c.scopesFor(authority.FlowRefreshToken).String()).
		Required("refresh_token", refreshToken)
	if err := c.auth.apply(f, c.clientID, c.authority.TokenURL()); err != nil {
		return nil, err
	}
	return c.finish(f)
}

// Refresh redeems refreshToken with the client registration of cred. The
// caller owns the refresh token; on invalid_grant it must be discarded.
func Refresh(ctx context.Context, exec *Executor, cred Credential, refreshToken string) (*Token, error) {
	if err := cred.validate(); err != nil {
		return nil, err
	}

	c := cred.base()
	f, err := c.refreshForm(refreshToken)
	if err != nil {
		return nil, err
	}

	tok, err := exec.Execute(ctx, f, c.authority.TokenURL())
	if err != nil {
		return nil, err
	}
	annotateHomeAccount(tok)
	return tok, nil
}

func notSupported(flow authority.Flow, target Target) error {
	return fmt.Errorf("%w: %s has no %s request", ErrInvalidState, flow, target)
}

// ============================================================================
// Client Authentication
// ============================================================================

// clientAuth authenticates a confidential client with either a shared
// secret or a signed assertion.
type clientAuth struct {
	secret string
	signer jwtx.Signer
	now    func() time.Time
}

func (a clientAuth) confidential() bool {
	return a.secret != "" || a.signer != nil
}

func (a clientAuth) validate() error {
	if a.secret != "" && a.signer != nil {
		return fmt.Errorf("%w: both a client secret and a certificate are configured", ErrInvalidConfig)
	}
	if a.signer != nil {
		if err := a.signer.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// apply declares the client authentication parameters on f. The assertion
// audience is the token endpoint.
func (a clientAuth) apply(f *Form, clientID, tokenURL string) error {
	switch {
	case a.signer != nil:
		now := time.Now()
		if a.now != nil {
			now = a.now()
		}
		assertion, err := a.signer.Sign(jwtx.NewAssertionClaims(clientID, tokenURL, jwtx.DefaultAssertionTTL, now))
		if err != nil {
			return fmt.Errorf("authsdk: sign client assertion: %w", err)
		}
		f.Required("client_assertion_type", ClientAssertionType).
			Required("client_assertion", assertion)
	case a.secret != "":
		f.Required("client_secret", a.secret)
	}
	return nil
}

// ============================================================================
// Flow Options
// ============================================================================

// Prompt is the OpenID Connect prompt parameter.
type Prompt string

const (
	PromptLogin         Prompt = "login"
	PromptNone          Prompt = "none"
	PromptConsent       Prompt = "consent"
	PromptSelectAccount Prompt = "select_account"
)

func (p Prompt) valid() bool {
	switch p {
	case "", PromptLogin, PromptNone, PromptConsent, PromptSelectAccount:
		return true
	}
	return false
}

// Response modes of the authorize redirect.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
	ResponseModeFormPost = "form_post"
)

// Sleeper waits for d or until ctx ends. httpx.Sleep is the default.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customises a flow built by the Builder. Options that do not apply
// to a flow are ignored.
type Option func(*options)

type options struct {
	auth         clientAuth
	prompt       Prompt
	loginHint    string
	domainHint   string
	responseMode string
	validator    *IDTokenValidator
	sleep        Sleeper
	onDeviceCode func(DeviceCode)
}

func newOptions(opts []Option) options {
	o := options{responseMode: ResponseModeQuery}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClientSecret authenticates a confidential client with a secret.
func WithClientSecret(secret string) Option {
	return func(o *options) { o.auth.secret = secret }
}

// WithClientCertificate authenticates a confidential client with a signed
// assertion.
func WithClientCertificate(signer jwtx.Signer) Option {
	return func(o *options) { o.auth.signer = signer }
}

// WithPrompt sets the authorize prompt.
func WithPrompt(p Prompt) Option {
	return func(o *options) { o.prompt = p }
}

// WithLoginHint pre-fills the sign-in name. It also becomes the account
// hint of the credential.
func WithLoginHint(hint string) Option {
	return func(o *options) { o.loginHint = hint }
}

// WithDomainHint skips home realm discovery for federated tenants.
func WithDomainHint(hint string) Option {
	return func(o *options) { o.domainHint = hint }
}

// WithResponseMode sets how the authorize endpoint returns the code.
func WithResponseMode(mode string) Option {
	return func(o *options) { o.responseMode = mode }
}

// WithIDTokenValidator verifies id_token signatures against published keys
// instead of only decoding them.
func WithIDTokenValidator(v *IDTokenValidator) Option {
	return func(o *options) { o.validator = v }
}

// WithSleeper replaces the wait between device code polls.
func WithSleeper(s Sleeper) Option {
	return func(o *options) { o.sleep = s }
}

// WithDeviceCodeCallback is called with the user code once the device
// authorization started. The default logs the provider's message.
func WithDeviceCodeCallback(fn func(DeviceCode)) Option {
	return func(o *options) { o.onDeviceCode = fn }
}

func lowerHint(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
