package syncsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL    = errors.New("sdk: server url missing")
	ErrNoRefreshToken = errors.New("sdk: refresh token missing")
	ErrNothingPending = errors.New("sdk: nothing pending")
	ErrFileNotFound   = errors.New("sdk: file not found")
	ErrUnauthorized   = errors.New("sdk: unauthorized")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeNotFound       = "E_NOT_FOUND"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	CodeAuthInvalidCredentials    = "E_AUTH_INVALID_CREDENTIALS"
	CodeAuthOTPVerificationFailed = "E_AUTH_OTP_VERIFICATION_FAILED"
	CodeAuthTokenRefreshFailed    = "E_AUTH_TOKEN_REFRESH_FAILED"

	CodeSyncInvalidMetadata = "E_SYNC_INVALID_METADATA"
	CodeSyncBundleFailed    = "E_SYNC_BUNDLE_FAILED"

	CodeCatalogFileNotFound = "E_CATALOG_FILE_NOT_FOUND"
)

// APIError is the server's JSON error envelope
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Is lets callers match auth failures with errors.Is(err, ErrUnauthorized)
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == 401
}

// handleAPIError turns transport failures and error responses into errors
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("sdk: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
			apiErr.Status = resp.GetStatusCode()
			return fmt.Errorf("sdk: %s: %w", operation, apiErr)
		}
		return fmt.Errorf("sdk: %s: %w", operation, &APIError{
			Code:    CodeUnknownError,
			Message: resp.Status,
			Status:  resp.GetStatusCode(),
		})
	}

	return nil
}
