package syncsdk

import (
	"context"
)

const (
	authOtpVerify = "/auth/otp/verify"
	authRefresh   = "/auth/refresh"
)

// VerifyOTP exchanges a TOTP code for a new session's token pair
func VerifyOTP(ctx context.Context, serverURL string, codeReq *VerifyOTPRequest) (*AuthTokenResponse, error) {
	var resp AuthTokenResponse

	res, err := HTTPClient.R().
		SetContext(ctx).
		SetBody(codeReq).
		SetSuccessResult(&resp).
		SetErrorResult(&APIError{}).
		Post(serverURL + authOtpVerify)

	if err := handleAPIError(res, err, "verify otp"); err != nil {
		return nil, err
	}

	return &resp, nil
}

// RefreshAuthTokens exchanges a refresh token for a new pair in the same session
func RefreshAuthTokens(ctx context.Context, serverURL string, refreshToken string) (*AuthTokenResponse, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	var resp AuthTokenResponse

	res, err := HTTPClient.R().
		SetContext(ctx).
		SetBody(&RefreshTokenRequest{RefreshToken: refreshToken}).
		SetSuccessResult(&resp).
		SetErrorResult(&APIError{}).
		Post(serverURL + authRefresh)

	if err := handleAPIError(res, err, "refresh token"); err != nil {
		return nil, err
	}

	return &resp, nil
}
