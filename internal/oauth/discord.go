package oauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sumire/authgate/internal/domain"
)

const (
	discordUserInfoURL = "https://discord.com/api/users/@me"
	discordAvatarCDN   = "https://cdn.discordapp.com/avatars"
)

// Discord authenticates users against Discord's OAuth2 API.
type Discord struct {
	conf        *oauth2.Config
	userInfoURL string
	client      *http.Client
}

// NewDiscord builds the Discord adapter from client credentials.
func NewDiscord(creds Credentials) *Discord {
	return &Discord{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURI,
			Endpoint:     endpoints.Discord,
			Scopes:       []string{"identify", "email"},
		},
		userInfoURL: discordUserInfoURL,
		client:      newHTTPClient(),
	}
}

func (d *Discord) Name() domain.AuthProvider {
	return domain.AuthProviderDiscord
}

func (d *Discord) AuthCodeURL(state string) string {
	return d.conf.AuthCodeURL(state)
}

type discordClaims struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
}

func (d *Discord) Exchange(ctx context.Context, code string) (*Profile, error) {
	tok, err := exchangeCode(ctx, d.conf, d.client, d.Name(), code)
	if err != nil {
		return nil, err
	}

	var claims discordClaims
	if err := fetchUserInfo(ctx, d.client, d.Name(), d.userInfoURL, tok.AccessToken, &claims); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, missingClaim(d.Name(), "id")
	}

	// Discord has a single display name, not given/family parts; the global
	// display name wins over the login username when present.
	name := claims.GlobalName
	if name == "" {
		name = claims.Username
	}

	var picture string
	if claims.Avatar != "" {
		picture = fmt.Sprintf("%s/%s/%s.png", discordAvatarCDN, claims.ID, claims.Avatar)
	}

	return &Profile{
		ExternalID:    claims.ID,
		Email:         claims.Email,
		EmailVerified: claims.Verified,
		FirstName:     name,
		PictureURL:    picture,
	}, nil
}
