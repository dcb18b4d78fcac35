// Package auth verifies the bearer tokens that identify callers.
//
// Tokens are gorilla/securecookie values: a user ID signed with AUTH_SECRET
// and stamped with an issue time. Issuance belongs to the account service;
// Issue exists for tests and local tooling.
//
// Service tokens identify the backend services that create notifications.
// They are signed with their own secret under their own name, so a user
// token never verifies as a service token even if the secrets match.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	tokenName        = "splitpulse-token"
	serviceTokenName = "splitpulse-service"
	DefaultTokenTTL  = 30 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	UserID string `json:"sub"`
}

type Verifier struct {
	codec *securecookie.SecureCookie
	name  string
}

func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return newVerifier(tokenName, secret, ttl)
}

// NewServiceVerifier handles service tokens. The subject is the service name.
func NewServiceVerifier(secret string, ttl time.Duration) *Verifier {
	return newVerifier(serviceTokenName, secret, ttl)
}

func newVerifier(name, secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	codec := securecookie.New([]byte(secret), nil).
		MaxAge(int(ttl.Seconds())).
		SetSerializer(securecookie.JSONEncoder{})
	return &Verifier{codec: codec, name: name}
}

// Issue mints a token for subject.
func (v *Verifier) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	token, err := v.codec.Encode(v.name, claims{UserID: subject})
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return token, nil
}

// Verify returns the subject carried by a valid, unexpired token.
func (v *Verifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	var c claims
	if err := v.codec.Decode(v.name, token, &c); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.UserID == "" {
		return "", ErrInvalidToken
	}
	return c.UserID, nil
}
