// Package auth issues and verifies the bearer tokens that carry an actor's identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("missing token")
	ErrMissingSecret = errors.New("missing token secret")
	ErrInvalidToken  = errors.New("invalid token")
)

type Claims struct {
	jwt.RegisteredClaims

	Name string `json:"name,omitempty"`
}

// Identity is the verified caller. ActorID is the token subject.
type Identity struct {
	ActorID   string
	Name      string
	ExpiresAt time.Time
}

// Tokens signs and checks HS256 actor tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokens(secret, issuer string, ttl time.Duration) Tokens {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue mints a token for actorID valid from now for the configured TTL.
func (t Tokens) Issue(actorID, name string, now time.Time) (string, error) {
	if len(t.secret) == 0 {
		return "", ErrMissingSecret
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Name: name,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Verify checks signature, issuer and time window and returns the caller.
func (t Tokens) Verify(tokenString string, now time.Time) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if len(t.secret) == 0 {
		return nil, ErrMissingSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	claims := &Claims{}
	tok, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid {
		return nil, ErrInvalidToken
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &Identity{
		ActorID:   subject,
		Name:      claims.Name,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
