package auth

import "github.com/golang-jwt/jwt/v5"

// Identity is the verified caller behind a bearer token.
type Identity struct {
	UserID string
	Email  string
	// EmailVerified is true unless the provider explicitly marked the address unverified.
	EmailVerified bool
	Name          string
}

// IdentityClaims are the token claims the service reads. The subject is the user id.
type IdentityClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func (c *IdentityClaims) Identity() Identity {
	verified := true
	if c.EmailVerified != nil {
		verified = *c.EmailVerified
	}
	return Identity{
		UserID:        c.Subject,
		Email:         c.Email,
		EmailVerified: verified,
		Name:          c.Name,
	}
}
