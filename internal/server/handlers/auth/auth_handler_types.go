package auth

// OTPVerifyRequest exchanges a TOTP code for a token pair.
type OTPVerifyRequest struct {
	Code   string `json:"code" binding:"required"`
	Device string `json:"device"`
}

// OTPVerifyResponse carries a fresh token pair. ExpiresIn is the access
// token lifetime in seconds.
type OTPVerifyResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RefreshRequest is the request for a new access token.
type RefreshRequest struct {
	OldRefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshResponse is the response for a new access token.
type RefreshResponse OTPVerifyResponse

// ProvisioningURIResponse holds the otpauth:// URI of the shared secret.
type ProvisioningURIResponse struct {
	URI string `json:"uri"`
}
