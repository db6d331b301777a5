package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func generateTokenPair(subject, sessionID string, config *Config, now time.Time) (accessToken string, refreshToken string, err error) {
	accessToken, err = newToken(subject, sessionID, config.TokenIssuer, config.AccessTokenSecret, config.AccessTokenExpiry, AccessToken, now)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err = newToken(subject, sessionID, config.TokenIssuer, config.RefreshTokenSecret, config.RefreshTokenExpiry, RefreshToken, now)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}

func newToken(subject, sessionID, issuer, jwtSecret string, expiry time.Duration, tokenType AuthTokenType, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Type:      tokenType,
		SessionID: sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}
