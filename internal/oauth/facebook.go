package oauth

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"

	"github.com/sumire/authgate/internal/domain"
)

const facebookUserInfoURL = "https://graph.facebook.com/v18.0/me"

// Facebook authenticates users against the Facebook Graph API.
type Facebook struct {
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewFacebook builds the Facebook adapter from client credentials.
func NewFacebook(creds Credentials) *Facebook {
	return &Facebook{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Endpoint:     facebook.Endpoint,
			Scopes:       []string{"email", "public_profile"},
		},
		userInfoURL: facebookUserInfoURL,
		client:      newHTTPClient(),
	}
}

func (f *Facebook) Name() domain.AuthProvider {
	return domain.AuthProviderFacebook
}

func (f *Facebook) AuthCodeURL(state string) string {
	return f.conf.AuthCodeURL(state)
}

type facebookClaims struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Picture   struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

func (f *Facebook) Exchange(ctx context.Context, code string) (*Profile, error) {
	tok, err := exchangeCode(ctx, f.conf, f.client, f.Name(), code)
	if err != nil {
		return nil, err
	}

	// The Graph API wants the requested fields and the token as query params.
	q := url.Values{}
	q.Set("fields", "id,email,first_name,last_name,picture")
	q.Set("access_token", tok.AccessToken)

	var claims facebookClaims
	if err := fetchUserInfo(ctx, f.client, f.Name(), f.userInfoURL+"?"+q.Encode(), "", &claims); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, missingClaim(f.Name(), "id")
	}

	// Facebook omits email when the user declined the scope or has none.
	return &Profile{
		ExternalID: claims.ID,
		Email:      claims.Email,
		FirstName:  claims.FirstName,
		LastName:   claims.LastName,
		PictureURL: claims.Picture.Data.URL,
	}, nil
}
