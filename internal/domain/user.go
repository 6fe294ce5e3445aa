package domain

import "time"

// AuthProvider identifies where an account's identity was established.
type AuthProvider string

const (
	AuthProviderLocal    AuthProvider = "local"
	AuthProviderGoogle   AuthProvider = "google"
	AuthProviderFacebook AuthProvider = "facebook"
	AuthProviderDiscord  AuthProvider = "discord"
)

// ParseFederatedProvider maps a URL path segment to a known external provider.
// The local provider is not addressable through the federation endpoints.
func ParseFederatedProvider(s string) (AuthProvider, bool) {
	switch AuthProvider(s) {
	case AuthProviderGoogle, AuthProviderFacebook, AuthProviderDiscord:
		return AuthProvider(s), true
	}
	return "", false
}

// User is the canonical identity record. Username and PasswordHash are set
// only for local accounts; ProviderUserID only for federated ones.
type User struct {
	ID             int64        `json:"id" db:"id"`
	Username       *string      `json:"username,omitempty" db:"username"`
	Email          string       `json:"email" db:"email"`
	FirstName      *string      `json:"first_name,omitempty" db:"first_name"`
	LastName       *string      `json:"last_name,omitempty" db:"last_name"`
	PictureURL     *string      `json:"picture_url,omitempty" db:"picture_url"`
	PasswordHash   *string      `json:"-" db:"password_hash"`
	Provider       AuthProvider `json:"provider" db:"provider"`
	ProviderUserID *string      `json:"-" db:"provider_user_id"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// IsLocal reports whether the account carries a password credential.
func (u *User) IsLocal() bool {
	return u.Provider == AuthProviderLocal
}
