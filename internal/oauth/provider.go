// Package oauth implements the federation side of the gateway: one adapter
// per external identity provider, each normalizing that provider's claims
// into a common Profile, plus the anti-forgery state store used to bind an
// authorization redirect to its callback.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/sumire/authgate/internal/domain"
)

// Profile is a provider-asserted identity claim, normalized across providers.
// ExternalID is always present; Email may legitimately be empty for some
// providers. EmailVerified reflects the provider's own claim and is carried
// for auditing only — the gateway treats every email as unverified.
type Profile struct {
	ExternalID    string
	Email         string
	EmailVerified bool
	FirstName     string
	LastName      string
	PictureURL    string
}

// Provider is the uniform capability set of an external identity provider.
type Provider interface {
	Name() domain.AuthProvider

	// AuthCodeURL builds the consent-screen redirect URL embedding the
	// caller-supplied anti-forgery state. Pure function of configuration.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the provider's user profile.
	// The call is bounded by ctx and the adapter's HTTP client timeout.
	Exchange(ctx context.Context, code string) (*Profile, error)
}

// Credentials is the OAuth client registration used to construct an adapter.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// exchangeCode runs the authorization-code grant through conf using client,
// classifying failures into temporary and permanent provider errors.
func exchangeCode(ctx context.Context, conf *oauth2.Config, client *http.Client, provider domain.AuthProvider, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		temporary := true
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			// The provider understood us and said no: a bad or reused code.
			temporary = false
		}
		return nil, &domain.ProviderError{Provider: provider, Op: "exchange code", Temporary: temporary, Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &domain.ProviderError{Provider: provider, Op: "exchange code", Err: fmt.Errorf("no access token in response")}
	}
	return tok, nil
}

// fetchUserInfo performs an authenticated GET against a user-info endpoint
// and decodes the JSON body into out.
func fetchUserInfo(ctx context.Context, client *http.Client, provider domain.AuthProvider, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Op: "build user info request", Err: err}
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: provider, Op: "fetch user info", Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.ProviderError{
			Provider:  provider,
			Op:        "fetch user info",
			Temporary: resp.StatusCode >= 500,
			Err:       fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Provider: provider, Op: "decode user info", Err: err}
	}
	return nil
}

func missingClaim(provider domain.AuthProvider, claim string) error {
	return &domain.ProviderError{
		Provider: provider,
		Op:       "normalize profile",
		Err:      fmt.Errorf("required claim %q is missing", claim),
	}
}
