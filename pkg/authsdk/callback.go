package authsdk

import (
	"fmt"
	"net/url"
)

// ParseAuthorizationCallback extracts code and state from the redirect the
// authorize endpoint sent the browser to. An error redirect is returned as
// *IdentityProviderError.
//
// Both query and fragment response modes are understood.
func ParseAuthorizationCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}

	params := u.Query()
	if params.Get("code") == "" && params.Get("error") == "" && u.Fragment != "" {
		if frag, ferr := url.ParseQuery(u.Fragment); ferr == nil {
			params = frag
		}
	}

	return CallbackParams(params)
}

// CallbackParams is ParseAuthorizationCallback for already decoded
// parameters, e.g. a form_post body.
func CallbackParams(params url.Values) (code, state string, err error) {
	if errCode := params.Get("error"); errCode != "" {
		return "", "", &IdentityProviderError{
			Code:          errCode,
			Description:   params.Get("error_description"),
			ErrorURI:      params.Get("error_uri"),
			CorrelationID: params.Get("correlation_id"),
			TraceID:       params.Get("trace_id"),
		}
	}

	code = params.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("authsdk: callback is missing authorization code")
	}
	return code, params.Get("state"), nil
}
