package auth

import (
	"fmt"
	"time"
)

const (
	DefaultTokenIssuer        = "mdbsync"
	DefaultAccessTokenExpiry  = time.Hour
	DefaultRefreshTokenExpiry = 30 * 24 * time.Hour
	DefaultTOTPIssuer         = "MDBManager"
	DefaultTOTPAccount        = "singleUser"
	DefaultOTPRateLimit       = "10-M"
)

type Config struct {
	TokenIssuer         string        `mapstructure:"token_issuer"`
	AccessTokenSecret   string        `mapstructure:"access_token_secret"`
	AccessTokenExpiry   time.Duration `mapstructure:"access_token_expiry"`
	RefreshTokenSecret  string        `mapstructure:"refresh_token_secret"`
	RefreshTokenExpiry  time.Duration `mapstructure:"refresh_token_expiry"`
	TOTPSecret          string        `mapstructure:"totp_secret"`
	TOTPIssuer          string        `mapstructure:"totp_issuer"`
	TOTPAccount         string        `mapstructure:"totp_account"`
	ProvisioningEnabled bool          `mapstructure:"provisioning_enabled"`
	OTPRateLimit        string        `mapstructure:"otp_rate_limit"`
}

func (c *Config) Validate() error {
	if c.AccessTokenSecret == "" {
		return fmt.Errorf("auth `access_token_secret` is required")
	}
	if len(c.AccessTokenSecret) < 16 {
		return fmt.Errorf("auth `access_token_secret` must be at least 16 characters")
	}
	if c.RefreshTokenSecret == "" {
		return fmt.Errorf("auth `refresh_token_secret` is required")
	}
	if c.RefreshTokenSecret == c.AccessTokenSecret {
		return fmt.Errorf("auth `refresh_token_secret` must differ from `access_token_secret`")
	}
	if c.AccessTokenExpiry < 0 || c.RefreshTokenExpiry < 0 {
		return fmt.Errorf("auth token expiry must not be negative")
	}
	if c.TOTPSecret != "" {
		if _, err := decodeSecret(c.TOTPSecret); err != nil {
			return fmt.Errorf("auth `totp_secret` is not valid base32: %w", err)
		}
	}
	return nil
}

// withDefaults fills unset fields
func (c *Config) withDefaults() *Config {
	out := *c
	if out.TokenIssuer == "" {
		out.TokenIssuer = DefaultTokenIssuer
	}
	if out.AccessTokenExpiry == 0 {
		out.AccessTokenExpiry = DefaultAccessTokenExpiry
	}
	if out.RefreshTokenExpiry == 0 {
		out.RefreshTokenExpiry = DefaultRefreshTokenExpiry
	}
	if out.TOTPIssuer == "" {
		out.TOTPIssuer = DefaultTOTPIssuer
	}
	if out.TOTPAccount == "" {
		out.TOTPAccount = DefaultTOTPAccount
	}
	if out.OTPRateLimit == "" {
		out.OTPRateLimit = DefaultOTPRateLimit
	}
	return &out
}
