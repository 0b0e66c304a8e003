package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenRequest describes a token to mint. Zero values are omitted.
type TokenRequest struct {
	Subject   string
	Email     string
	Role      string
	RefugioID string
	Name      string
	Issuer    string
	Audience  []string
	ExpiresIn time.Duration
}

// IssueToken signs an HS256 token. The auth backend issues production
// tokens; this is used by the tokengen tool and tests.
func IssueToken(secret string, req TokenRequest) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  req.Subject,
			Issuer:   req.Issuer,
			Audience: req.Audience,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Email:     req.Email,
		Role:      req.Role,
		RefugioID: req.RefugioID,
		Name:      req.Name,
	}
	if req.ExpiresIn != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(req.ExpiresIn))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
