package auth

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

var totpOpts = totp.ValidateOpts{
	Period:    totpPeriod,
	Skew:      totpSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// replayWindow covers every step a code is accepted in
const replayWindow = time.Duration(totpPeriod*(2*totpSkew+1)) * time.Second

// provisioningURL builds the otpauth:// URL authenticator apps import
func provisioningURL(issuer, account, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", "6")
	v.Set("period", fmt.Sprint(totpPeriod))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: v.Encode(),
	}
	return u.String()
}

func validateCode(code, secret string, at time.Time) (bool, error) {
	return totp.ValidateCustom(code, secret, at, totpOpts)
}

// ProvisioningURI returns the otpauth URL for the shared secret
func (s *AuthService) ProvisioningURI(ctx context.Context) (string, error) {
	if !s.config.ProvisioningEnabled {
		return "", ErrProvisioningOff
	}
	secret, err := s.secrets.Secret(ctx)
	if err != nil {
		return "", err
	}
	return provisioningURL(s.config.TOTPIssuer, s.config.TOTPAccount, secret), nil
}

// ProvisioningQR renders the otpauth URL as a size x size PNG
func (s *AuthService) ProvisioningQR(ctx context.Context, size int) ([]byte, error) {
	uri, err := s.ProvisioningURI(ctx)
	if err != nil {
		return nil, err
	}

	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parse otpauth url: %w", err)
	}

	if size <= 0 {
		size = 256
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return buf.Bytes(), nil
}
