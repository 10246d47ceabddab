// Package service provides authentication-related services for access token
// issuing and verification.
package service

import (
	"crypto/rand"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// TokenService issues and verifies bearer access tokens.
type TokenService interface {
	Issue(userID uuid.UUID) (string, error)
	Verify(token string) (uuid.UUID, error)
}

// tokenService implements TokenService using HS256-signed JWTs with
// subject and expiry claims.
type tokenService struct {
	signingKey []byte
	ttl        time.Duration
}

// NewTokenService creates a new TokenService. When signingKey is empty a
// random 32-byte key is generated, which invalidates tokens across restarts.
func NewTokenService(signingKey string, ttl time.Duration) (TokenService, error) {
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, apperrors.Wrap(err, "failed to generate signing key")
		}
	}

	return &tokenService{
		signingKey: key,
		ttl:        ttl,
	}, nil
}

// Issue creates a signed token for the user.
func (t *tokenService) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// Verify parses and validates a token, returning the subject user ID.
func (t *tokenService) Verify(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, apperrors.New("unexpected signing method")
			}
			return t.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid token")
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid token claims")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.ErrUnauthorized, "invalid token subject")
	}
	return userID, nil
}
