package syncsdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/imroc/req/v3"
	"github.com/mdbmanager/mdbsync/internal/version"
)

// HTTPClient is the base client every SDK client is cloned from
var HTTPClient = req.C().
	SetCommonRetryCount(3).
	SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
	SetUserAgent(UserAgent).
	SetCommonHeader(HeaderSyncVersion, version.Version).
	SetCommonHeader(HeaderSyncDeviceID, DeviceID()).
	SetJsonMarshal(jsonMarshal).
	SetJsonUnmarshal(jsonUnmarshal)

// Config is the configuration for the SyncSDK
type Config struct {
	BaseURL      string // BaseURL is required
	RefreshToken string // RefreshToken is required
	AccessToken  string // AccessToken is optional
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	if c.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	return nil
}

// TokenUpdateFunc receives rotated tokens so callers can persist the refresh token
type TokenUpdateFunc func(accessToken, refreshToken string)

// SyncSDK talks to an mdbsync server on behalf of one session
type SyncSDK struct {
	client  *req.Client
	baseURL string

	mu            sync.Mutex
	accessToken   string
	refreshToken  string
	onTokenUpdate TokenUpdateFunc

	Sync *SyncAPI
}

func New(config *Config) (*SyncSDK, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := HTTPClient.Clone().
		SetBaseURL(config.BaseURL).
		SetCommonErrorResult(&APIError{})

	sdk := &SyncSDK{
		client:       client,
		baseURL:      config.BaseURL,
		accessToken:  config.AccessToken,
		refreshToken: config.RefreshToken,
	}
	if config.AccessToken != "" {
		client.SetCommonBearerAuthToken(config.AccessToken)
	}
	sdk.Sync = newSyncAPI(client, sdk.withAuth)

	return sdk, nil
}

// OnTokenUpdate registers fn to be called after every token refresh
func (s *SyncSDK) OnTokenUpdate(fn TokenUpdateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenUpdate = fn
}

// Authenticate exchanges the refresh token for a new token pair
func (s *SyncSDK) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := RefreshAuthTokens(ctx, s.baseURL, s.refreshToken)
	if err != nil {
		return err
	}

	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.client.SetCommonBearerAuthToken(resp.AccessToken)
	slog.Debug("sdk authenticated", "expiresIn", resp.ExpiresIn)

	if s.onTokenUpdate != nil {
		s.onTokenUpdate(resp.AccessToken, resp.RefreshToken)
	}
	return nil
}

// withAuth runs call, authenticating first when there is no access token
// and once more when the server rejects the current one
func (s *SyncSDK) withAuth(ctx context.Context, call func() error) error {
	s.mu.Lock()
	hasToken := s.accessToken != ""
	s.mu.Unlock()

	if !hasToken {
		if err := s.Authenticate(ctx); err != nil {
			return err
		}
	}

	err := call()
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	slog.Debug("sdk access token rejected, refreshing")
	if err := s.Authenticate(ctx); err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	return call()
}

// DeviceID is a stable, app-scoped id of this machine
func DeviceID() string {
	id, err := machineid.ProtectedID(version.AppName)
	if err != nil {
		return "unknown"
	}
	return id
}

// DefaultDeviceName names this machine when the user gives no device name
func DefaultDeviceName() string {
	id := DeviceID()
	if len(id) > 12 {
		id = id[:12]
	}
	return "device-" + id
}
