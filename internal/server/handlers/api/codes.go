package api

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeNotFound       = "E_NOT_FOUND"       // route or feature not available

	// Auth errors
	CodeAuthInvalidCredentials    = "E_AUTH_INVALID_CREDENTIALS"     // bearer token is missing, invalid or expired
	CodeAuthOTPVerificationFailed = "E_AUTH_OTP_VERIFICATION_FAILED" // TOTP code rejected or replayed
	CodeAuthTokenGenerationFailed = "E_AUTH_TOKEN_GENERATION_FAILED" // token pair could not be minted
	CodeAuthTokenRefreshFailed    = "E_AUTH_TOKEN_REFRESH_FAILED"    // refresh token rejected

	// Sync errors
	CodeSyncInvalidMetadata = "E_SYNC_INVALID_METADATA" // uploaded catalog could not be decoded
	CodeSyncBundleFailed    = "E_SYNC_BUNDLE_FAILED"    // bundle could not be built

	// Catalog errors
	CodeCatalogFileNotFound  = "E_CATALOG_FILE_NOT_FOUND" // path is not in the catalog or not on disk
	CodeCatalogInvalidPath   = "E_CATALOG_INVALID_PATH"   // path escapes the content root or is malformed
	CodeCatalogRefreshFailed = "E_CATALOG_REFRESH_FAILED" // rescan failed
)
