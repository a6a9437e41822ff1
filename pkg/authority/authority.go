// Package authority resolves identity provider endpoints for a tenant within
// a sovereign cloud. URL construction is pure; discovery lives in a separate
// type so the rest of the package never performs I/O.
package authority

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidTenantForFlow is returned when a flow requires a specific tenant
// (or forbids a particular alias) and the authority does not satisfy it.
var ErrInvalidTenantForFlow = errors.New("authority: tenant not allowed for flow")

// Flow names an OAuth2 grant for tenant validation purposes.
type Flow int

const (
	FlowAuthCode Flow = iota
	FlowDeviceCode
	FlowClientCredentials
	FlowOnBehalfOf
	FlowPassword
	FlowRefreshToken
)

func (f Flow) String() string {
	switch f {
	case FlowAuthCode:
		return "authorization_code"
	case FlowDeviceCode:
		return "device_code"
	case FlowClientCredentials:
		return "client_credentials"
	case FlowOnBehalfOf:
		return "on_behalf_of"
	case FlowPassword:
		return "password"
	case FlowRefreshToken:
		return "refresh_token"
	default:
		return "unknown"
	}
}

// Delegated reports whether the flow acts on behalf of a signed-in user and
// can therefore be issued a refresh token.
func (f Flow) Delegated() bool {
	switch f {
	case FlowAuthCode, FlowDeviceCode, FlowPassword, FlowRefreshToken:
		return true
	default:
		return false
	}
}

// Authority is the (cloud, tenant) tuple identifying an identity provider
// endpoint set.
type Authority struct {
	cloud  Cloud
	tenant Tenant
	scheme string
	host   string
}

// Option customises an Authority.
type Option func(*Authority) error

// WithHost points the authority at a custom base URL instead of the cloud's
// login host. Used for private clouds and for tests against a local server.
func WithHost(rawURL string) Option {
	return func(a *Authority) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return fmt.Errorf("authority: parse host: %w", err)
		}
		if u.Host == "" {
			return fmt.Errorf("authority: host %q has no hostname", rawURL)
		}
		a.scheme = u.Scheme
		a.host = u.Host
		return nil
	}
}

// New builds an authority for the given cloud and tenant.
func New(cloud Cloud, tenant Tenant, opts ...Option) (Authority, error) {
	if !cloud.Valid() {
		return Authority{}, fmt.Errorf("authority: unknown cloud %s", cloud)
	}

	a := Authority{
		cloud:  cloud,
		tenant: tenant,
		scheme: "https",
		host:   cloud.Host(),
	}
	for _, opt := range opts {
		if err := opt(&a); err != nil {
			return Authority{}, err
		}
	}
	return a, nil
}

// MustNew is like New but panics on error. Intended for fixed configuration.
func MustNew(cloud Cloud, tenant Tenant, opts ...Option) Authority {
	a, err := New(cloud, tenant, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Authority) Cloud() Cloud   { return a.cloud }
func (a Authority) Tenant() Tenant { return a.tenant }

// IsZero reports whether the authority was never initialised.
func (a Authority) IsZero() bool { return a.host == "" }

// BaseURL returns "{scheme}://{host}/{tenant}".
func (a Authority) BaseURL() string {
	return a.scheme + "://" + a.host + "/" + a.tenant.String()
}

// AuthorizeURL returns the v2.0 authorization endpoint.
func (a Authority) AuthorizeURL() string { return a.BaseURL() + "/oauth2/v2.0/authorize" }

// TokenURL returns the v2.0 token endpoint.
func (a Authority) TokenURL() string { return a.BaseURL() + "/oauth2/v2.0/token" }

// DeviceCodeURL returns the v2.0 device authorization endpoint.
func (a Authority) DeviceCodeURL() string { return a.BaseURL() + "/oauth2/v2.0/devicecode" }

// JWKSURL returns the signing key set published for the tenant.
func (a Authority) JWKSURL() string { return a.BaseURL() + "/discovery/v2.0/keys" }

// DiscoveryURL returns the OpenID Connect metadata document location.
func (a Authority) DiscoveryURL() string {
	return a.BaseURL() + "/v2.0/.well-known/openid-configuration"
}

// IssuerFor returns the v2.0 issuer expected in tokens minted for tenantID.
// Multi-tenant authorities accept tokens from any tenant, so the caller
// supplies the tid claim it observed.
func (a Authority) IssuerFor(tenantID string) string {
	if tenantID == "" || a.tenant.kind == KindTenantID {
		tenantID = a.tenant.String()
	}
	return a.scheme + "://" + a.host + "/" + strings.ToLower(tenantID) + "/v2.0"
}

// Validate checks the tenant against the constraints of flow.
//
// Client credentials and on-behalf-of act as the application inside one
// directory and need a tenant id or domain. The password grant cannot sign
// in personal Microsoft accounts, so the consumers alias is rejected.
func (a Authority) Validate(flow Flow) error {
	switch flow {
	case FlowClientCredentials, FlowOnBehalfOf:
		if !a.tenant.IsSpecific() {
			return fmt.Errorf("%w: %s requires a specific tenant, got %q",
				ErrInvalidTenantForFlow, flow, a.tenant)
		}
	case FlowPassword:
		if a.tenant.kind == KindConsumers {
			return fmt.Errorf("%w: %s cannot use %q",
				ErrInvalidTenantForFlow, flow, a.tenant)
		}
	}
	return nil
}
