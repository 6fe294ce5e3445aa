// Package token signs and verifies the JWTs issued by the gateway: bearer
// access tokens carrying a user id, and short-lived password-reset tokens.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sumire/authgate/internal/domain"
)

const (
	typeAccess = "access"
	typeReset  = "reset"
)

// Codec issues and verifies tokens with a symmetric secret and a fixed
// HMAC algorithm. Payloads are never trusted before signature verification.
type Codec struct {
	secret    []byte
	method    jwt.SigningMethod
	accessTTL time.Duration
	resetTTL  time.Duration

	now func() time.Time
}

// NewCodec builds a Codec. Algorithm must be one of HS256, HS384, HS512.
func NewCodec(secret, algorithm string, accessTTL, resetTTL time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret is empty")
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm %q", algorithm)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("algorithm %q is not an HMAC method", algorithm)
	}
	return &Codec{
		secret:    []byte(secret),
		method:    method,
		accessTTL: accessTTL,
		resetTTL:  resetTTL,
		now:       time.Now,
	}, nil
}

// IssueAccess signs a bearer access token for the given user id.
func (c *Codec) IssueAccess(userID int64) (string, error) {
	now := c.now()
	t := jwt.NewWithClaims(c.method, jwt.MapClaims{
		"sub":  userID,
		"type": typeAccess,
		"iat":  now.Unix(),
		"exp":  now.Add(c.accessTTL).Unix(),
	})
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccess validates signature, expiry and token type, returning the
// subject user id. Any failure is domain.ErrInvalidToken.
func (c *Codec) VerifyAccess(tokenString string) (int64, error) {
	claims, err := c.parse(tokenString, typeAccess)
	if err != nil {
		return 0, err
	}
	sub, ok := claims["sub"].(float64)
	if !ok {
		return 0, domain.ErrInvalidToken
	}
	return int64(sub), nil
}

// IssueReset signs a password-reset token bound to an email address.
func (c *Codec) IssueReset(email string) (string, error) {
	now := c.now()
	t := jwt.NewWithClaims(c.method, jwt.MapClaims{
		"sub":  email,
		"type": typeReset,
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(c.resetTTL).Unix(),
	})
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign reset token: %w", err)
	}
	return signed, nil
}

// VerifyReset validates a password-reset token and returns the bound email.
func (c *Codec) VerifyReset(tokenString string) (string, error) {
	claims, err := c.parse(tokenString, typeReset)
	if err != nil {
		return "", err
	}
	email, ok := claims["sub"].(string)
	if !ok || email == "" {
		return "", domain.ErrInvalidToken
	}
	return email, nil
}

func (c *Codec) parse(tokenString, wantType string) (jwt.MapClaims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok || !t.Valid {
		return nil, domain.ErrInvalidToken
	}
	if typ, _ := claims["type"].(string); typ != wantType {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}
