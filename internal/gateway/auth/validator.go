// Package auth verifies bearer tokens and checks caller roles.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

// DefaultRole is assigned when a verified token carries no role claim.
const DefaultRole = "normal"

var (
	ErrMissingToken     = errors.New("missing bearer token")
	ErrMalformedHeader  = errors.New("authorization header must use the Bearer scheme")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token has expired")
	ErrAudienceMismatch = errors.New("token audience mismatch")
	ErrIssuerMismatch   = errors.New("token issuer mismatch")
	ErrMissingSubject   = errors.New("token has no subject")
)

// Validator turns a bearer token into a caller identity. The local JWT
// validator is the only implementation today; API key or OAuth validators
// can be added alongside it.
type Validator interface {
	Validate(token string) (*models.Identity, error)
}

// Claims is the token payload accepted by the gateway.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	RefugioID string `json:"refugio_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

type JWTConfig struct {
	Secret string
	// Issuer and Audience are checked only when configured and present in
	// the token.
	Issuer   string
	Audience string
}

// JWTValidator verifies HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewJWTValidator(cfg JWTConfig) (*JWTValidator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt validator: secret is required")
	}
	return &JWTValidator{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// Validate verifies signature, expiry, audience and issuer, in that order,
// and builds the caller identity.
func (v *JWTValidator) Validate(token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(_ *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithLeeway(0),
	)
	if err != nil {
		return nil, classify(err)
	}

	if v.audience != "" && len(claims.Audience) > 0 && !slices.Contains(claims.Audience, v.audience) {
		return nil, fmt.Errorf("%w: expected %q", ErrAudienceMismatch, v.audience)
	}
	if v.issuer != "" && claims.Issuer != "" && claims.Issuer != v.issuer {
		return nil, fmt.Errorf("%w: expected %q", ErrIssuerMismatch, v.issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMissingSubject
	}

	role := claims.Role
	if role == "" {
		role = DefaultRole
	}
	return &models.Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      role,
		RefugioID: claims.RefugioID,
		Name:      claims.Name,
	}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

// BearerToken extracts the token from an Authorization header value.
// An empty header yields ErrMissingToken.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, _ := strings.Cut(strings.TrimSpace(header), " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
