package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"
)

var GoogleUserInfoEndpoint = "https://openidconnect.googleapis.com/v1/userinfo"

// GoogleProvider implements Provider for Google.
type GoogleProvider struct {
	*BaseProvider
}

// NewGoogleProvider creates a Google provider using the standard OIDC
// scopes.
func NewGoogleProvider(cfg Config) (*GoogleProvider, error) {
	base, err := newBaseProvider("google", cfg, googleOAuth2.Endpoint, []string{"openid", "profile", "email"})
	if err != nil {
		return nil, err
	}
	return &GoogleProvider{BaseProvider: base}, nil
}

// FetchIdentity resolves the Google identity from the OIDC userinfo
// endpoint. The 'sub' claim is the stable provider user id.
func (g *GoogleProvider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*ExternalIdentity, error) {
	client := g.httpClient(ctx, token)

	resp, err := client.Get(GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchIdentityFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchIdentityFailed, resp.StatusCode)
	}

	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchIdentityFailed, err)
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("%w: missing sub claim", ErrFetchIdentityFailed)
	}

	identity := &ExternalIdentity{
		ProviderUserID: claims.Sub,
		Username:       claims.Name,
	}
	if claims.EmailVerified {
		identity.Email = claims.Email
	}
	return identity, nil
}
