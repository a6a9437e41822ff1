package authsdk

import (
	"net/url"
	"slices"
	"strings"
)

// Target selects which request a credential serializes.
type Target int

const (
	// TargetAuthorizeQuery is the query string of the authorize redirect
	TargetAuthorizeQuery Target = iota
	// TargetTokenForm is the x-www-form-urlencoded token endpoint body
	TargetTokenForm
)

func (t Target) String() string {
	if t == TargetAuthorizeQuery {
		return "authorize"
	}
	return "token"
}

// Grant types sent as grant_type.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantPassword          = "password"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// ClientAssertionType is the client_assertion_type of certificate credentials.
const ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// reservedParams can never be set through extra parameters.
var reservedParams = []string{
	"assertion",
	"client_assertion",
	"client_assertion_type",
	"client_id",
	"client_secret",
	"code",
	"code_challenge",
	"code_challenge_method",
	"code_verifier",
	"device_code",
	"domain_hint",
	"grant_type",
	"login_hint",
	"nonce",
	"password",
	"prompt",
	"redirect_uri",
	"refresh_token",
	"requested_token_use",
	"response_mode",
	"response_type",
	"scope",
	"state",
	"username",
}

// Param is one declared request parameter. An empty Value means the
// parameter is absent.
type Param struct {
	Name     string
	Value    string
	Required bool
}

// Form is an ordered parameter list. Parameters are emitted in declaration
// order followed by extra parameters sorted by name, so encoding the same
// inputs always yields the same bytes.
type Form struct {
	params  []Param
	extra   []Param
	dropped []string
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Required declares a parameter that must have a value.
func (f *Form) Required(name, value string) *Form {
	f.params = append(f.params, Param{Name: name, Value: value, Required: true})
	return f
}

// Optional declares a parameter that is omitted when empty.
func (f *Form) Optional(name, value string) *Form {
	f.params = append(f.params, Param{Name: name, Value: value})
	return f
}

// Extra appends caller supplied parameters. Names that are reserved or
// already declared are dropped; see Dropped.
func (f *Form) Extra(extra map[string]string) *Form {
	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if f.declared(name) || slices.Contains(reservedParams, strings.ToLower(name)) {
			f.dropped = append(f.dropped, name)
			continue
		}
		f.extra = append(f.extra, Param{Name: name, Value: extra[name]})
	}
	return f
}

// Dropped lists the extra parameter names that collided with standard ones.
func (f *Form) Dropped() []string { return f.dropped }

func (f *Form) declared(name string) bool {
	for _, p := range f.params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Get returns the value of name, or "" when absent.
func (f *Form) Get(name string) string {
	for _, p := range f.params {
		if p.Name == name {
			return p.Value
		}
	}
	for _, p := range f.extra {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Validate returns a *MissingParameterError for the first required
// parameter without a value.
func (f *Form) Validate() error {
	for _, p := range f.params {
		if p.Required && p.Value == "" {
			return &MissingParameterError{Name: p.Name}
		}
	}
	return nil
}

// Params returns the parameters that will be sent, in order.
func (f *Form) Params() ([]Param, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	out := make([]Param, 0, len(f.params)+len(f.extra))
	for _, p := range f.params {
		if p.Value != "" {
			out = append(out, p)
		}
	}
	for _, p := range f.extra {
		if p.Value != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Encode renders the form as application/x-www-form-urlencoded. Unlike
// url.Values.Encode the declaration order is kept.
func (f *Form) Encode() (string, error) {
	params, err := f.Params()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String(), nil
}

// Values returns the form as url.Values.
func (f *Form) Values() (url.Values, error) {
	params, err := f.Params()
	if err != nil {
		return nil, err
	}

	v := make(url.Values, len(params))
	for _, p := range params {
		v.Add(p.Name, p.Value)
	}
	return v, nil
}
