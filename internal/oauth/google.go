package oauth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sumire/authgate/internal/domain"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Google authenticates users against Google's OAuth2 endpoints.
type Google struct {
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewGoogle builds the Google adapter from client credentials.
func NewGoogle(creds Credentials) *Google {
	return &Google{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: googleUserInfoURL,
		client:      newHTTPClient(),
	}
}

func (g *Google) Name() domain.AuthProvider {
	return domain.AuthProviderGoogle
}

func (g *Google) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

type googleClaims struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (g *Google) Exchange(ctx context.Context, code string) (*Profile, error) {
	tok, err := exchangeCode(ctx, g.conf, g.client, g.Name(), code)
	if err != nil {
		return nil, err
	}

	var claims googleClaims
	if err := fetchUserInfo(ctx, g.client, g.Name(), g.userInfoURL, tok.AccessToken, &claims); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, missingClaim(g.Name(), "id")
	}

	return &Profile{
		ExternalID:    claims.ID,
		Email:         claims.Email,
		EmailVerified: claims.VerifiedEmail,
		FirstName:     claims.GivenName,
		LastName:      claims.FamilyName,
		PictureURL:    claims.Picture,
	}, nil
}
