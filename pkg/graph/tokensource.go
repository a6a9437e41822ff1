package graph

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the client's cache to oauth2.TokenSource so code
// built on golang.org/x/oauth2 shares its tokens. The refresh token is
// never handed out.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, client: c}
}

type tokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.client.Token(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Expiry:      tok.ExpiresAt,
	}, nil
}
