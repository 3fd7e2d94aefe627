package utils // package utils provides helpers for identity token handling

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Identity is the authenticated caller as carried in a JWT issued by
// the platform's auth service.  Subject is an opaque identifier (an
// email in practice) used as the holder identity on claims; Role is
// "customer" or "staff".
type Identity struct {
	Subject string
	Role    string
}

// ErrInvalidToken is returned for tokens that fail signature, expiry
// or claim-shape validation.
var ErrInvalidToken = errors.New("invalid token")

// ParseIdentity validates an HS256 JWT against the shared secret and
// extracts the subject and role claims.  This service never issues
// production tokens – the auth collaborator does – it only verifies.
func ParseIdentity(secret, raw string) (Identity, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	return Identity{Subject: sub, Role: role}, nil
}

// NewIdentityToken builds and signs an HS256 JWT for an identity.  Used
// by tests and local development; production tokens come from the auth
// service with the same claim shape.
func NewIdentityToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
