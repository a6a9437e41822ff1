package authority_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/stretchr/testify/require"
)

const tenantID = "72f988bf-86f1-41af-91ab-2d7cd011db47"

func TestCloudHosts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cloud authority.Cloud
		host  string
	}{
		{authority.AzurePublic, "login.microsoftonline.com"},
		{authority.AzureChina, "login.chinacloudapi.cn"},
		{authority.AzureGovernment, "login.microsoftonline.us"},
		{authority.AzureGermany, "login.microsoftonline.de"},
	}

	for _, tt := range tests {
		t.Run(tt.cloud.String(), func(t *testing.T) {
			require.Equal(t, tt.host, tt.cloud.Host())

			parsed, err := authority.ParseCloud(tt.cloud.String())
			require.NoError(t, err)
			require.Equal(t, tt.cloud, parsed)
		})
	}

	_, err := authority.ParseCloud("mars")
	require.Error(t, err)
}

func TestParseTenant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		kind    authority.TenantKind
		value   string
		wantErr bool
	}{
		{"common", authority.KindCommon, "common", false},
		{"", authority.KindCommon, "common", false},
		{"Organizations", authority.KindOrganizations, "organizations", false},
		{"consumers", authority.KindConsumers, "consumers", false},
		{"72F988BF-86F1-41AF-91AB-2D7CD011DB47", authority.KindTenantID, tenantID, false},
		{"contoso.onmicrosoft.com", authority.KindNamed, "contoso.onmicrosoft.com", false},
		{"contoso", 0, "", true},
		{"not a tenant!", 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tenant, err := authority.ParseTenant(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, authority.ErrInvalidTenant)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, tenant.Kind())
			require.Equal(t, tt.value, tenant.String())
		})
	}
}

func TestAuthorityURLs(t *testing.T) {
	t.Parallel()

	tenant, err := authority.TenantFromID(tenantID)
	require.NoError(t, err)

	a, err := authority.New(authority.AzureChina, tenant)
	require.NoError(t, err)

	base := "https://login.chinacloudapi.cn/" + tenantID
	require.Equal(t, base, a.BaseURL())
	require.Equal(t, base+"/oauth2/v2.0/authorize", a.AuthorizeURL())
	require.Equal(t, base+"/oauth2/v2.0/token", a.TokenURL())
	require.Equal(t, base+"/oauth2/v2.0/devicecode", a.DeviceCodeURL())
	require.Equal(t, base+"/discovery/v2.0/keys", a.JWKSURL())
	require.Equal(t, base+"/v2.0/.well-known/openid-configuration", a.DiscoveryURL())
	require.Equal(t, base+"/v2.0", a.IssuerFor(""))
}

func TestAuthorityWithHost(t *testing.T) {
	t.Parallel()

	a, err := authority.New(authority.AzurePublic, authority.TenantCommon, authority.WithHost("http://127.0.0.1:9999"))
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9999/common/oauth2/v2.0/token", a.TokenURL())
	require.Equal(t, "http://127.0.0.1:9999/"+tenantID+"/v2.0", a.IssuerFor(tenantID))

	_, err = authority.New(authority.AzurePublic, authority.TenantCommon, authority.WithHost("/relative"))
	require.Error(t, err)
}

func TestValidateForFlow(t *testing.T) {
	t.Parallel()

	specific := authority.MustNew(authority.AzurePublic, must(authority.TenantFromDomain("contoso.com")))

	tests := []struct {
		name    string
		tenant  authority.Tenant
		flow    authority.Flow
		wantErr bool
	}{
		{"client credentials common", authority.TenantCommon, authority.FlowClientCredentials, true},
		{"client credentials consumers", authority.TenantConsumers, authority.FlowClientCredentials, true},
		{"client credentials organizations", authority.TenantOrganizations, authority.FlowClientCredentials, true},
		{"client credentials specific", specific.Tenant(), authority.FlowClientCredentials, false},
		{"obo common", authority.TenantCommon, authority.FlowOnBehalfOf, true},
		{"obo specific", specific.Tenant(), authority.FlowOnBehalfOf, false},
		{"password consumers", authority.TenantConsumers, authority.FlowPassword, true},
		{"password organizations", authority.TenantOrganizations, authority.FlowPassword, false},
		{"auth code common", authority.TenantCommon, authority.FlowAuthCode, false},
		{"device code consumers", authority.TenantConsumers, authority.FlowDeviceCode, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := authority.MustNew(authority.AzurePublic, tt.tenant)
			err := a.Validate(tt.flow)
			if tt.wantErr {
				require.ErrorIs(t, err, authority.ErrInvalidTenantForFlow)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDiscoverCachesDocument(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "/"+tenantID+"/v2.0/.well-known/openid-configuration", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint":        "https://idp/authorize",
			"token_endpoint":                "https://idp/token",
			"device_authorization_endpoint": "https://idp/devicecode",
			"jwks_uri":                      "https://idp/keys",
			"issuer":                        "https://idp/" + tenantID + "/v2.0",
		})
	}))
	defer srv.Close()

	a := authority.MustNew(authority.AzurePublic, must(authority.TenantFromID(tenantID)), authority.WithHost(srv.URL))
	d := authority.NewDiscoverer(srv.Client(), 0)

	md, err := d.Discover(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, "https://idp/token", md.TokenEndpoint)
	require.Equal(t, "https://idp/devicecode", md.DeviceAuthorizationEndpoint)
	require.Equal(t, "https://idp/keys", md.JWKSURI)

	_, err = d.Discover(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, int32(1), hits.Load())

	d.Forget(a)
	_, err = d.Discover(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, int32(2), hits.Load())
}

func TestDiscoverRejectsIncompleteDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer srv.Close()

	a := authority.MustNew(authority.AzurePublic, authority.TenantCommon, authority.WithHost(srv.URL))
	_, err := authority.NewDiscoverer(srv.Client(), 0).Discover(context.Background(), a)
	require.Error(t, err)
	require.False(t, errors.Is(err, authority.ErrInvalidTenant))
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
