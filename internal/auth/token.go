package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
)

// MinSecretLength is the shortest accepted signing secret.
const MinSecretLength = 32

// Claims identifies the component a token was issued to.
type Claims struct {
	// Subject names the calling component, e.g. "worker" or "cli".
	Subject string `json:"sub"`
	// Scopes lists what the component may do. Empty means unrestricted.
	Scopes    []string  `json:"scopes,omitempty"`
	Issuer    string    `json:"iss"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
	ID        string    `json:"jti"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return len(c.Scopes) == 0 || slices.Contains(c.Scopes, scope)
}

type tokenClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 bearer tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	lifetime   time.Duration
	clock      clockwork.Clock
	clockSkew  time.Duration
}

// NewTokenService creates a TokenService from the auth config.
func NewTokenService(cfg config.AuthConfig, clock clockwork.Clock) (*TokenService, error) {
	if len(cfg.JWTSecret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lifetime := cfg.TokenLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &TokenService{
		signingKey: []byte(cfg.JWTSecret),
		issuer:     cfg.Issuer,
		lifetime:   lifetime,
		clock:      clock,
		clockSkew:  2 * time.Minute, // tolerate minor drift between hosts
	}, nil
}

// Issue signs a token for subject. A zero lifetime uses the configured one.
func (s *TokenService) Issue(ctx context.Context, subject string, lifetime time.Duration, scopes ...string) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: subject is required", ErrInvalidToken)
	}
	if lifetime <= 0 {
		lifetime = s.lifetime
	}
	now := s.clock.Now()
	claims := tokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		logger.FromContext(ctx).Error("failed to sign bearer token",
			"error", err,
			"subject", subject)
		return "", fmt.Errorf("failed to sign token with HMAC-SHA256: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and returns its claims.
func (s *TokenService) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	log := logger.FromContext(ctx)
	now := s.clock.Now()

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			log.Debug("token validation failed: token expired", "error", err)
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			log.Debug("token validation failed: token not yet valid", "error", err)
			return nil, ErrTokenNotYetValid
		default:
			log.Debug("token validation failed",
				"error", err,
				"error_type", fmt.Sprintf("%T", err))
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		log.Debug("token validation failed: wrong issuer",
			"expected", s.issuer,
			"actual", claims.Issuer)
		return nil, ErrWrongIssuer
	}

	return &Claims{
		Subject:   claims.Subject,
		Scopes:    claims.Scopes,
		Issuer:    claims.Issuer,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}
