package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/keeply/keeply-backend/pkg/config"
)

// ErrMissingSubject is returned for otherwise valid tokens that carry no user id.
var ErrMissingSubject = errors.New("token subject missing")

// Verifier validates bearer tokens issued by the identity provider. Tokens are signed
// either with a shared HS256 secret or an RS256 key whose public half is configured.
type Verifier struct {
	method   jwt.SigningMethod
	key      any
	issuer   string
	audience string
	skew     time.Duration
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	v := &Verifier{
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     cfg.ClockSkew,
	}
	if v.issuer == "" {
		return nil, fmt.Errorf("jwt issuer is required")
	}
	switch {
	case strings.TrimSpace(cfg.PublicKeyPEM) != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		v.method, v.key = jwt.SigningMethodRS256, key
	case cfg.Secret != "":
		v.method, v.key = jwt.SigningMethodHS256, []byte(cfg.Secret)
	default:
		return nil, fmt.Errorf("jwt secret or public key is required")
	}
	return v, nil
}

// Verify parses and validates the token and returns the caller identity.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &IdentityClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != v.method.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return v.key, nil
		},
		opts...,
	)
	if err != nil {
		return Identity{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrMissingSubject
	}
	return claims.Identity(), nil
}

// MintToken issues an HS256 token for dev tooling and tests.
func MintToken(cfg config.AuthConfig, now time.Time, identity Identity, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if identity.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive")
	}

	verified := identity.EmailVerified
	claims := IdentityClaims{
		Email:         identity.Email,
		EmailVerified: &verified,
		Name:          identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
