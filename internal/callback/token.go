// ABOUTME: Single-use JWT minting and verification for callback replies
// ABOUTME: Uses HS256 with a per-process random secret

package callback

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrMissingClaim = errors.New("missing required claim")
)

// tokenIssuer mints and verifies callback tokens. The signing secret is
// generated at construction, so tokens never survive a process restart.
type tokenIssuer struct {
	secret []byte
}

func newTokenIssuer() (*tokenIssuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating token secret: %w", err)
	}
	return &tokenIssuer{secret: secret}, nil
}

// Generate creates a token binding one correlation id to one jti.
func (i *tokenIssuer) Generate(correlationID, jti string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": correlationID,
		"jti": jti,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates the token signature and expiry, returning the correlation
// id ("sub") and token id ("jti") claims.
func (i *tokenIssuer) Verify(tokenString string) (correlationID, jti string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", ErrExpiredToken
		}
		return "", "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	id, ok := claims["jti"].(string)
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: jti", ErrMissingClaim)
	}

	return sub, id, nil
}
