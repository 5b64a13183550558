package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	githubOAuth2 "golang.org/x/oauth2/github"
)

var (
	GithubUserInfoEndpoint   = "https://api.github.com/user"
	GithubUserEmailsEndpoint = "https://api.github.com/user/emails"
)

// GitHubProvider implements Provider for GitHub.
type GitHubProvider struct {
	*BaseProvider
}

// NewGitHubProvider creates a GitHub provider. The read:user and
// user:email scopes are required for the identity fields we resolve.
func NewGitHubProvider(cfg Config) (*GitHubProvider, error) {
	base, err := newBaseProvider("github", cfg, githubOAuth2.Endpoint, []string{"read:user", "user:email"})
	if err != nil {
		return nil, err
	}
	return &GitHubProvider{BaseProvider: base}, nil
}

// FetchIdentity resolves the GitHub identity. GitHub needs two calls: the
// profile endpoint may hide the email, so the primary verified address is
// fetched from the emails endpoint.
func (g *GitHubProvider) FetchIdentity(ctx context.Context, token *oauth2.Token) (*ExternalIdentity, error) {
	client := g.httpClient(ctx, token)

	resp, err := client.Get(GithubUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchIdentityFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchIdentityFailed, resp.StatusCode)
	}

	var profile struct {
		ID    json.Number `json:"id"`
		Login string      `json:"login"`
		Email string      `json:"email"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchIdentityFailed, err)
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchIdentityFailed, err)
	}

	identity := &ExternalIdentity{
		ProviderUserID: profile.ID.String(),
		Username:       profile.Login,
		Email:          profile.Email,
	}

	if email, err := g.fetchPrimaryEmail(client); err == nil && email != "" {
		identity.Email = email
	}
	return identity, nil
}

func (g *GitHubProvider) fetchPrimaryEmail(client *http.Client) (string, error) {
	resp, err := client.Get(GithubUserEmailsEndpoint)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}
