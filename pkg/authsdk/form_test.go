package authsdk

import (
	"net/url"
	"testing"

	"github.com/aussiebroadwan/graphauth/pkg/authority"
	"github.com/stretchr/testify/require"
)

func TestFormEncodeKeepsDeclarationOrder(t *testing.T) {
	t.Parallel()

	f := NewForm().
		Required("z_first", "1").
		Optional("skipped", "").
		Required("a_second", "two words").
		Extra(map[string]string{"x-b": "b", "x-a": "a"})

	enc, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, "z_first=1&a_second=two+words&x-a=a&x-b=b", enc)
}

func TestFormMissingRequired(t *testing.T) {
	t.Parallel()

	f := NewForm().Required("client_id", "app").Required("scope", "")

	_, err := f.Encode()
	var missing *MissingParameterError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "scope", missing.Name)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFormExtrasNeverOverride(t *testing.T) {
	t.Parallel()

	f := NewForm().
		Required("grant_type", GrantClientCredentials).
		Extra(map[string]string{
			"grant_type":    "password",
			"client_secret": "injected",
			"Scope":         "x",
			"slice":         "testslice",
		})

	v, err := f.Values()
	require.NoError(t, err)
	require.Equal(t, GrantClientCredentials, v.Get("grant_type"))
	require.Empty(t, v.Get("client_secret"))
	require.Equal(t, "testslice", v.Get("slice"))
	require.ElementsMatch(t, []string{"Scope", "client_secret", "grant_type"}, f.Dropped())
}

func TestSerializeIsDeterministic(t *testing.T) {
	t.Parallel()

	tenant := specificTenant(t)
	build := func() Credential {
		return NewBuilder(testClientID).
			Tenant(tenant).
			Scopes("https://graph.microsoft.com/.default").
			ExtraParam("slice", "testslice").
			ExtraParam("dc", "ESTS-PUB").
			ClientSecret("s3cret")
	}

	first, err := Serialize(build(), TargetTokenForm)
	require.NoError(t, err)
	want, err := first.Encode()
	require.NoError(t, err)

	for range 20 {
		f, err := Serialize(build(), TargetTokenForm)
		require.NoError(t, err)
		got, err := f.Encode()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	require.Equal(t,
		"client_id="+testClientID+
			"&grant_type=client_credentials"+
			"&scope=https%3A%2F%2Fgraph.microsoft.com%2F.default"+
			"&client_secret=s3cret&dc=ESTS-PUB&slice=testslice",
		want)
}

func TestAuthorizationURLRoundTrip(t *testing.T) {
	t.Parallel()

	cred := NewBuilder(testClientID).
		Tenant(authority.TenantOrganizations).
		Scopes("openid", "User.Read", "Mail.Read").
		RedirectURI("http://localhost:8400/callback").
		ExtraParam("claims", `{"id_token":{"acrs":{"essential":true}}}`).
		AuthCodePKCE(WithPrompt(PromptSelectAccount), WithLoginHint("Adele@Contoso.example"))

	raw, err := cred.AuthorizationURL()
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "login.microsoftonline.com", u.Host)
	require.Equal(t, "/organizations/oauth2/v2.0/authorize", u.Path)

	f, err := Serialize(cred, TargetAuthorizeQuery)
	require.NoError(t, err)
	want, err := f.Values()
	require.NoError(t, err)
	require.Equal(t, want, u.Query())

	q := u.Query()
	req := cred.Request()
	require.Equal(t, req.State, q.Get("state"))
	require.Equal(t, req.Nonce, q.Get("nonce"))
	require.Equal(t, req.PKCE.Challenge, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "openid User.Read Mail.Read offline_access", q.Get("scope"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, "select_account", q.Get("prompt"))
	require.Empty(t, q.Get("code_verifier"), "the verifier never leaves the client")

	// Scope separators are encoded as '+'
	require.Contains(t, u.RawQuery, "scope=openid+User.Read+Mail.Read+offline_access")
	require.Equal(t, "adele@contoso.example", cred.AccountHint())
}
