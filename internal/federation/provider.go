// Package federation talks to external OAuth2 identity providers. The
// credential service only needs one interaction with them: exchange an
// authorization code for a verified external identity.
package federation

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// ExternalIdentity holds the standardized identity returned by a
// provider after a successful code exchange.
type ExternalIdentity struct {
	// ProviderUserID is the user's unique id at the provider (e.g.
	// GitHub's numeric id, Google's 'sub').
	ProviderUserID string
	Email          string
	Username       string
}

// Provider is an external OAuth2 identity provider.
type Provider interface {
	// Name returns the unique provider identifier (e.g. "github").
	Name() string

	// Exchange swaps a one-time authorization code for an OAuth2 token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// FetchIdentity uses the token to retrieve the verified identity.
	FetchIdentity(ctx context.Context, token *oauth2.Token) (*ExternalIdentity, error)
}

// Config carries the OAuth2 client settings for one provider.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// BaseProvider holds the pieces shared by the concrete providers.
type BaseProvider struct {
	name string
	conf *oauth2.Config
}

func newBaseProvider(name string, cfg Config, endpoint oauth2.Endpoint, defaultScopes []string) (*BaseProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrProviderMisconfigured
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}
	return &BaseProvider{
		name: name,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}, nil
}

func (b *BaseProvider) Name() string { return b.name }

// Exchange swaps the authorization code for a token.
func (b *BaseProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := b.conf.Exchange(ctx, code)
	if err != nil {
		return nil, ErrExchangeCodeFailed
	}
	return tok, nil
}

// httpClient returns an HTTP client authenticated with the given token.
func (b *BaseProvider) httpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return b.conf.Client(ctx, token)
}
