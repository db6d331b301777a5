package syncsdk

import (
	"time"

	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/version"
)

const (
	HeaderUserAgent     = "User-Agent"
	HeaderSyncVersion   = "X-Mdbsync-Version"
	HeaderSyncDeviceID  = "X-Mdbsync-Device-Id"
	HeaderBundleFiles   = "X-Bundle-Files"
	HeaderBundleSkipped = "X-Bundle-Skipped"
)

var UserAgent = version.UserAgent()

type VerifyOTPRequest struct {
	Code   string `json:"code"`
	Device string `json:"device,omitempty"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type AuthTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// UploadMetadataResponse wraps the bare path -> digest diff the server answers with
type UploadMetadataResponse struct {
	Diff  map[string]string
	Files int
}

// MetadataResponse wraps the bare path -> digest catalog
type MetadataResponse struct {
	Catalog catalog.Digests
	Files   int
}

type StatusResponse struct {
	Pending        bool       `json:"pending"`
	Files          int        `json:"files"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	CatalogFiles   int        `json:"catalogFiles"`
	CatalogTakenAt time.Time  `json:"catalogTakenAt"`
}

type RefreshCatalogResponse struct {
	Files   int           `json:"files"`
	Added   int           `json:"added"`
	Updated int           `json:"updated"`
	Deleted int           `json:"deleted"`
	Took    time.Duration `json:"took"`
}

type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Route     string    `json:"route"`
	Method    string    `json:"method"`
	Path      string    `json:"path,omitempty"`
	Session   string    `json:"session"`
	IP        string    `json:"ip"`
	Status    int       `json:"status"`
	Files     int       `json:"files,omitempty"`
	Bytes     int64     `json:"bytes"`
	TookMs    int64     `json:"tookMs"`
	Error     string    `json:"error,omitempty"`
}

type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// DiffDownload describes a bundle saved by DownloadDiff
type DiffDownload struct {
	Path    string
	Size    int64
	Files   int
	Skipped int
}
