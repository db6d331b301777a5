package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
)

const DefaultDevice = "default"

var deviceNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

type AuthService struct {
	config  *Config
	secrets SecretProvider
	used    *expirable.LRU[string, struct{}]
	usedMu  sync.Mutex
	clock   clockwork.Clock
}

type Option func(*AuthService)

func WithClock(clock clockwork.Clock) Option {
	return func(s *AuthService) {
		s.clock = clock
	}
}

func NewAuthService(config *Config, secrets SecretProvider, opts ...Option) *AuthService {
	s := &AuthService{
		config:  config.withDefaults(),
		secrets: secrets,
		used:    expirable.NewLRU[string, struct{}](1024, nil, replayWindow),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AuthService) Config() *Config {
	return s.config
}

// VerifyTOTP checks code against the shared secret. A code is accepted once.
func (s *AuthService) VerifyTOTP(ctx context.Context, code string) error {
	if len(code) != int(totpOpts.Digits) {
		return ErrInvalidOTP
	}

	secret, err := s.secrets.Secret(ctx)
	if err != nil {
		return fmt.Errorf("totp secret: %w", err)
	}

	ok, err := validateCode(code, secret, s.clock.Now())
	if err != nil || !ok {
		return ErrInvalidOTP
	}

	s.usedMu.Lock()
	defer s.usedMu.Unlock()
	if s.used.Contains(code) {
		return ErrOTPReplayed
	}
	s.used.Add(code, struct{}{})

	return nil
}

// GenerateTokens exchanges a valid TOTP code for a new session's token pair
func (s *AuthService) GenerateTokens(ctx context.Context, code, device string) (string, string, error) {
	if device == "" {
		device = DefaultDevice
	}
	if !deviceNameRegex.MatchString(device) {
		return "", "", ErrInvalidDevice
	}

	if err := s.VerifyTOTP(ctx, code); err != nil {
		return "", "", fmt.Errorf("failed to generate token pair: %w", err)
	}

	sessionID := uuid.New().String()
	accessToken, refreshToken, err := generateTokenPair(device, sessionID, s.config, s.clock.Now())
	if err != nil {
		return "", "", fmt.Errorf("failed to generate token pair: %w", err)
	}

	slog.Info("auth session created", "device", device, "sid", sessionID)
	return accessToken, refreshToken, nil
}

// RefreshToken issues a new pair for the same device and session
func (s *AuthService) RefreshToken(ctx context.Context, oldRefreshToken string) (string, string, error) {
	if oldRefreshToken == "" {
		return "", "", ErrInvalidRequestToken
	}

	claims, err := s.ValidateRefreshToken(ctx, oldRefreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}

	accessToken, refreshToken, err := generateTokenPair(claims.Subject, claims.SessionID, s.config, s.clock.Now())
	if err != nil {
		return "", "", fmt.Errorf("failed to refresh token pair: %w", err)
	}

	return accessToken, refreshToken, nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*Claims, error) {
	return s.validate(accessToken, s.config.AccessTokenSecret, AccessToken, ErrInvalidAccessToken)
}

func (s *AuthService) ValidateRefreshToken(ctx context.Context, refreshToken string) (*Claims, error) {
	return s.validate(refreshToken, s.config.RefreshTokenSecret, RefreshToken, ErrInvalidRefreshToken)
}

func (s *AuthService) validate(token, secret string, want AuthTokenType, invalid error) (*Claims, error) {
	if token == "" {
		return nil, invalid
	}

	claims, err := ParseClaims(token, secret, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, errors.Join(invalid, err)
	}

	if claims.Type != want {
		return nil, fmt.Errorf("%w: wrong token type got %q", invalid, claims.Type)
	}

	return claims, nil
}
