package authsdk

import (
	"log/slog"
	"maps"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/aussiebroadwan/graphauth/pkg/jwtx"
	"github.com/aussiebroadwan/graphauth/pkg/scope"
)

// Builder collects the settings shared by every flow. Setters return the
// builder for chaining; a flow method produces a credential and leaves the
// builder reusable.
//
//	cred := authsdk.NewBuilder(clientID).
//		Cloud(authority.AzurePublic).
//		Tenant(tenant).
//		Scopes("User.Read", "Mail.Read").
//		RedirectURI("http://localhost:8400/callback").
//		AuthCodePKCE()
type Builder struct {
	clientID    string
	cloud       authority.Cloud
	tenant      authority.Tenant
	authority   *authority.Authority
	hostOpts    []authority.Option
	scopes      []string
	redirectURI string
	extra       map[string]string
	policy      scope.OfflineAccessPolicy
	logger      *slog.Logger
}

// NewBuilder starts a credential for the application clientID in the
// public cloud's common tenant.
func NewBuilder(clientID string) *Builder {
	return &Builder{
		clientID: clientID,
		cloud:    authority.AzurePublic,
		tenant:   authority.TenantCommon,
	}
}

// Cloud selects the national cloud.
func (b *Builder) Cloud(c authority.Cloud) *Builder {
	b.cloud = c
	return b
}

// Tenant selects the directory.
func (b *Builder) Tenant(t authority.Tenant) *Builder {
	b.tenant = t
	return b
}

// Authority uses a prebuilt authority, overriding Cloud, Tenant and Host.
func (b *Builder) Authority(a authority.Authority) *Builder {
	b.authority = &a
	return b
}

// Host points the authority at a custom base URL.
func (b *Builder) Host(rawURL string) *Builder {
	b.hostOpts = append(b.hostOpts, authority.WithHost(rawURL))
	return b
}

// Scopes adds scopes to the request.
func (b *Builder) Scopes(scopes ...string) *Builder {
	b.scopes = append(b.scopes, scopes...)
	return b
}

// RedirectURI sets the registered reply URL of interactive flows.
func (b *Builder) RedirectURI(uri string) *Builder {
	b.redirectURI = uri
	return b
}

// ExtraParam adds a non-standard request parameter. Standard names cannot
// be overridden this way.
func (b *Builder) ExtraParam(name, value string) *Builder {
	if b.extra == nil {
		b.extra = make(map[string]string)
	}
	b.extra[name] = value
	return b
}

// OfflineAccess sets the offline_access policy; OfflineAccessAuto is the
// default.
func (b *Builder) OfflineAccess(p scope.OfflineAccessPolicy) *Builder {
	b.policy = p
	return b
}

// Logger sets the logger used by the credential.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// fill copies the builder settings into c.
func (b *Builder) fill(c *common, auth clientAuth) {
	c.clientID = b.clientID
	c.requested = scope.New(b.scopes...)
	c.policy = b.policy
	c.redirectURI = b.redirectURI
	c.extra = maps.Clone(b.extra)
	c.auth = auth
	c.logger = b.logger

	if b.authority != nil {
		c.authority = *b.authority
	} else {
		c.authority, c.authErr = authority.New(b.cloud, b.tenant, b.hostOpts...)
	}
}

// ============================================================================
// Flow Constructors
// ============================================================================

// AuthCode builds an authorization code credential without PKCE. Use it
// only for confidential web apps (WithClientSecret or
// WithClientCertificate); public clients should use AuthCodePKCE.
func (b *Builder) AuthCode(opts ...Option) *AuthCodeCredential {
	return b.newAuthCode(false, opts)
}

// AuthCodePKCE builds an authorization code credential that binds the code
// to this client with an S256 challenge.
func (b *Builder) AuthCodePKCE(opts ...Option) *AuthCodeCredential {
	return b.newAuthCode(true, opts)
}

func (b *Builder) newAuthCode(pkce bool, opts []Option) *AuthCodeCredential {
	o := newOptions(opts)
	c := &AuthCodeCredential{opts: o, usePKCE: pkce}
	b.fill(&c.common, o.auth)
	return c
}

// ClientSecret builds an app-only credential authenticated with a secret.
func (b *Builder) ClientSecret(secret string) *ClientCredential {
	c := &ClientCredential{}
	b.fill(&c.common, clientAuth{secret: secret})
	return c
}

// ClientCertificate builds an app-only credential authenticated with a
// signed assertion.
func (b *Builder) ClientCertificate(signer jwtx.Signer) *ClientCredential {
	c := &ClientCredential{certificate: true}
	b.fill(&c.common, clientAuth{signer: signer})
	return c
}

// DeviceCode builds a device authorization credential.
func (b *Builder) DeviceCode(opts ...Option) *DeviceCodeCredential {
	o := newOptions(opts)
	c := &DeviceCodeCredential{opts: o}
	b.fill(&c.common, o.auth)
	return c
}

// OnBehalfOf builds a credential exchanging userAssertion, the access token
// this service received, for a downstream token. The client must be
// confidential.
func (b *Builder) OnBehalfOf(userAssertion string, opts ...Option) *OnBehalfOfCredential {
	c := &OnBehalfOfCredential{assertion: userAssertion}
	b.fill(&c.common, newOptions(opts).auth)
	return c
}

// Password builds a resource owner password credential.
func (b *Builder) Password(username, password string, opts ...Option) *PasswordCredential {
	c := &PasswordCredential{username: username, password: password}
	b.fill(&c.common, newOptions(opts).auth)
	return c
}

// RefreshToken builds a credential redeeming an existing refresh token.
func (b *Builder) RefreshToken(refreshToken string, opts ...Option) *RefreshTokenCredential {
	c := &RefreshTokenCredential{refreshToken: refreshToken}
	b.fill(&c.common, newOptions(opts).auth)
	return c
}
