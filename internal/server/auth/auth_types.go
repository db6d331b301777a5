package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrOTPReplayed         = errors.New("otp already used")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRequestToken = errors.New("invalid request token")
	ErrInvalidAccessToken  = fmt.Errorf("%w: access token", ErrInvalidToken)
	ErrInvalidRefreshToken = fmt.Errorf("%w: refresh token", ErrInvalidToken)
	ErrInvalidDevice       = errors.New("invalid device name")
	ErrProvisioningOff     = errors.New("totp provisioning is disabled")
)
