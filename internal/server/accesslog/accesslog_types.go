package accesslog

import "time"

const (
	DefaultMaxLogSize  = 10 * 1024 * 1024
	DefaultMaxLogFiles = 5

	logFilePermission = 0o600
	logDirPermission  = 0o700

	currentLogName  = "access.log"
	rotatedLogLayout = "access_20060102_150405.000.log"
)

// Entry is one sync request made by a device
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Route     string    `json:"route"`
	Method    string    `json:"method"`
	Path      string    `json:"path,omitempty"`
	Device    string    `json:"device"`
	Session   string    `json:"session"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"userAgent"`
	Status    int       `json:"status"`
	Files     int       `json:"files,omitempty"`
	Bytes     int64     `json:"bytes"`
	Took      int64     `json:"tookMs"`
	Error     string    `json:"error,omitempty"`
}
