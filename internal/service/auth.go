// Package service holds the two orchestrators of the gateway: local
// register/login and the OAuth federation flow. Both converge on the token
// codec to produce the bearer token returned to the client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/sumire/authgate/internal/domain"
	"github.com/sumire/authgate/internal/mail"
	"github.com/sumire/authgate/internal/oauth"
	"github.com/sumire/authgate/internal/password"
	"github.com/sumire/authgate/internal/token"
)

// UserStore defines the identity-store interface consumed by AuthService.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByUsername(ctx context.Context, username string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByProviderID(ctx context.Context, provider domain.AuthProvider, providerUserID string) (*domain.User, error)
	CreateLocal(ctx context.Context, username, email, passwordHash string) (*domain.User, error)
	CreateFederated(ctx context.Context, u domain.User) (*domain.User, error)
	UpdateProfile(ctx context.Context, id int64, firstName, lastName, pictureURL *string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
}

// AuthService drives both authentication flows.
type AuthService struct {
	users       UserStore
	states      *oauth.StateStore
	providers   map[domain.AuthProvider]oauth.Provider
	tokens      *token.Codec
	mailer      mail.Sender
	frontendURL string
}

// NewAuthService creates a new AuthService. Only the providers present in the
// map are reachable through the federation endpoints.
func NewAuthService(users UserStore, states *oauth.StateStore, providers map[domain.AuthProvider]oauth.Provider, tokens *token.Codec, mailer mail.Sender, frontendURL string) *AuthService {
	return &AuthService{
		users:       users,
		states:      states,
		providers:   providers,
		tokens:      tokens,
		mailer:      mailer,
		frontendURL: frontendURL,
	}
}

// Register creates a local account. Uniqueness of username and email is
// enforced by the store's constraints, so concurrent registrations for the
// same identity yield exactly one user and one ErrDuplicateAccount.
func (s *AuthService) Register(ctx context.Context, username, email, plain string) (*domain.User, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	return s.users.CreateLocal(ctx, username, email, hash)
}

// Login verifies local credentials and issues a bearer token. Unknown
// usernames, passwordless (federated) accounts, and wrong passwords all fail
// with the same ErrInvalidCredentials, so the response carries no
// enumeration signal.
func (s *AuthService) Login(ctx context.Context, username, plain string) (string, *domain.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil, domain.ErrInvalidCredentials
		}
		return "", nil, err
	}
	if user.PasswordHash == nil || !password.Verify(plain, *user.PasswordHash) {
		return "", nil, domain.ErrInvalidCredentials
	}

	accessToken, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return "", nil, err
	}
	return accessToken, user, nil
}

// AuthorizeURL mints a fresh anti-forgery state for the named provider and
// returns the consent-screen URL to redirect the client to.
func (s *AuthService) AuthorizeURL(providerName string) (string, error) {
	provider, err := s.provider(providerName)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(provider.Name())
	if err != nil {
		return "", err
	}
	return provider.AuthCodeURL(state), nil
}

// HandleCallback completes the authorization-code flow: it consumes the
// state, exchanges the code for a provider profile, reconciles the profile
// against the identity store, and issues a bearer token. Presenting the same
// (code, state) pair a second time fails on the consumed state, so a code
// can never be replayed into a second token.
func (s *AuthService) HandleCallback(ctx context.Context, providerName, code, state string) (string, *domain.User, error) {
	provider, err := s.provider(providerName)
	if err != nil {
		return "", nil, err
	}
	if err := s.states.Consume(state, provider.Name()); err != nil {
		return "", nil, err
	}

	profile, err := provider.Exchange(ctx, code)
	if err != nil {
		return "", nil, err
	}

	user, err := s.reconcile(ctx, provider.Name(), profile)
	if err != nil {
		return "", nil, err
	}

	accessToken, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return "", nil, err
	}
	return accessToken, user, nil
}

// reconcile maps a provider identity claim to the canonical user record,
// creating it on first login and refreshing profile fields on repeats.
func (s *AuthService) reconcile(ctx context.Context, provider domain.AuthProvider, profile *oauth.Profile) (*domain.User, error) {
	user, err := s.users.FindByProviderID(ctx, provider, profile.ExternalID)
	switch {
	case err == nil:
		return s.users.UpdateProfile(ctx, user.ID,
			optional(profile.FirstName), optional(profile.LastName), optional(profile.PictureURL))
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	email := profile.Email
	if email == "" {
		// Some providers legitimately omit email; a deterministic
		// provider-scoped placeholder keeps the email constraints intact.
		email = fmt.Sprintf("%s@%s.invalid", profile.ExternalID, provider)
	} else {
		existing, err := s.users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			if existing.Provider == provider && existing.ProviderUserID != nil && *existing.ProviderUserID == profile.ExternalID {
				// A concurrent first login created this exact identity
				// between our two lookups; adopt the winner's record.
				return s.users.UpdateProfile(ctx, existing.ID,
					optional(profile.FirstName), optional(profile.LastName), optional(profile.PictureURL))
			}
			// The email belongs to a foreign account, whether under another
			// provider or another external id of this one.
			return nil, domain.ErrAccountNotLinked
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	created, err := s.users.CreateFederated(ctx, domain.User{
		Email:          email,
		FirstName:      optional(profile.FirstName),
		LastName:       optional(profile.LastName),
		PictureURL:     optional(profile.PictureURL),
		Provider:       provider,
		ProviderUserID: &profile.ExternalID,
	})
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, domain.ErrDuplicateAccount) {
		return nil, err
	}

	// Lost a creation race. If the winner holds the same identity, adopt its
	// record; otherwise the conflict was on the email.
	user, lookupErr := s.users.FindByProviderID(ctx, provider, profile.ExternalID)
	if lookupErr != nil {
		if errors.Is(lookupErr, domain.ErrNotFound) {
			return nil, domain.ErrAccountNotLinked
		}
		return nil, lookupErr
	}
	return s.users.UpdateProfile(ctx, user.ID,
		optional(profile.FirstName), optional(profile.LastName), optional(profile.PictureURL))
}

// CurrentUser retrieves the user behind a verified bearer token subject.
func (s *AuthService) CurrentUser(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.FindByID(ctx, userID)
}

// VerifyAccess validates a bearer token and returns the subject user id.
func (s *AuthService) VerifyAccess(tokenString string) (int64, error) {
	return s.tokens.VerifyAccess(tokenString)
}

// ForgotPassword issues a reset token and emails it to the account's address.
// The outcome is identical whether or not the email maps to a local account,
// so the endpoint cannot be used to enumerate addresses. Delivery failures
// are logged, not surfaced.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsLocal() {
		return nil
	}

	resetToken, err := s.tokens.IssueReset(user.Email)
	if err != nil {
		return err
	}
	link := s.frontendURL + "/reset-password?token=" + url.QueryEscape(resetToken)
	if err := s.mailer.SendPasswordResetEmail(user.Email, link); err != nil {
		slog.Error("failed to send password reset email", "error", err)
	}
	return nil
}

// ResetPassword verifies a reset token and replaces the account's password.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	email, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		return err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidToken
		}
		return err
	}
	if !user.IsLocal() {
		return domain.ErrInvalidToken
	}

	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if err := s.mailer.SendPasswordChangedEmail(user.Email); err != nil {
		slog.Error("failed to send password changed email", "error", err)
	}
	return nil
}

func (s *AuthService) provider(name string) (oauth.Provider, error) {
	tag, ok := domain.ParseFederatedProvider(name)
	if !ok {
		return nil, domain.ErrNotFound
	}
	provider, ok := s.providers[tag]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return provider, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
