/*
Package authsdk acquires OAuth2 bearer tokens from the Microsoft identity
platform.

# Overview

A credential describes one OAuth2 grant together with the client
registration it belongs to. Credentials are built with a fluent Builder and
redeemed with an Executor, which performs the token endpoint POST and turns
the response into a Token:

	exec := authsdk.NewExecutor(http.DefaultClient)

	cred := authsdk.NewBuilder("00000000-0000-0000-0000-000000000001").
		Tenant(tenant).
		Scopes("https://graph.microsoft.com/.default").
		ClientSecret(os.Getenv("GRAPH_CLIENT_SECRET"))

	token, err := cred.AcquireToken(ctx, exec)

Configuration is validated once, the first time a credential is serialized.
Misconfiguration surfaces from AcquireToken (or AuthorizationURL) rather
than from the builder.

# Flows

  - AuthCode / AuthCodePKCE: interactive sign-in. AuthorizationURL issues
    the browser redirect, WithCode consumes the callback and AcquireToken
    redeems the code. Subsequent calls use the refresh token.
  - ClientSecret / ClientCertificate: app-only client credentials. Every
    AcquireToken call hits the token endpoint; cache the result.
  - DeviceCode: Start returns the user code to display, Poll waits for the
    user to finish signing in on another device.
  - OnBehalfOf: exchanges an incoming user assertion for a downstream token.
  - Password: resource owner password credentials. Any interactive
    challenge (MFA, consent) is terminal.
  - RefreshToken: redeems a refresh token obtained elsewhere.

# Errors

Token endpoint errors are returned as *IdentityProviderError and can be
matched with errors.Is against the predefined values:

	if errors.Is(err, authsdk.ErrInteractionRequired) {
		// fall back to an interactive flow
	}

Network and decode failures are *TransportError. Configuration problems are
*MissingParameterError or wrap authority.ErrInvalidTenantForFlow and
ErrInvalidConfig.

# Secrets

Client secrets, assertions, codes and tokens never appear in error messages
or log records. Token implements slog.LogValuer and fmt.Stringer with the
secret fields masked.

# Thread Safety

Credentials are safe for concurrent use. Stateful flows serialise their
transitions with a mutex, so concurrent AcquireToken calls on the same
authorization code credential redeem the code once.
*/
package authsdk
