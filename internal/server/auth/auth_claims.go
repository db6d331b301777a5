package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

type AuthTokenType string

const (
	AccessToken  AuthTokenType = "access"
	RefreshToken AuthTokenType = "refresh"
)

type Claims struct {
	Type      AuthTokenType `json:"type"`
	SessionID string        `json:"sid"`
	jwt.RegisteredClaims
}

// SessionKey identifies the sync session the token belongs to
func (c *Claims) SessionKey() string {
	return c.Subject + "/" + c.SessionID
}

// ParseClaims verifies an HS256 token and returns its claims.
// Extra parser options are appended to the defaults.
func ParseClaims(tokenString, jwtSecret string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}, opts...)

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, opts...)

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.SessionID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("token has no session")
	}

	return claims, nil
}
