package syncsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/imroc/req/v3"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/utils"
)

const (
	syncUploadMetadata = "/sync/upload-metadata"
	syncDownloadDiff   = "/sync/download-diff"
	syncMetadata       = "/sync/metadata"
	syncStatus         = "/sync/status"
	syncHistory        = "/sync/history"
	syncFile           = "/sync/file/"
	catalogRefresh     = "/catalog/refresh"
)

type authFunc func(ctx context.Context, call func() error) error

type SyncAPI struct {
	client   *req.Client
	withAuth authFunc
}

func newSyncAPI(client *req.Client, withAuth authFunc) *SyncAPI {
	return &SyncAPI{
		client:   client,
		withAuth: withAuth,
	}
}

// UploadMetadata sends the local catalog and returns what the server will bundle
func (s *SyncAPI) UploadMetadata(ctx context.Context, local catalog.Digests) (*UploadMetadataResponse, error) {
	if local == nil {
		local = catalog.Digests{}
	}

	var result map[string]string
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetBody(local).
			SetSuccessResult(&result).
			Post(syncUploadMetadata)
		return handleAPIError(res, err, "upload metadata")
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = map[string]string{}
	}
	return &UploadMetadataResponse{Diff: result, Files: len(result)}, nil
}

// DownloadDiff saves the pending bundle to destPath.
// It returns ErrNothingPending when the server has nothing to send.
func (s *SyncAPI) DownloadDiff(ctx context.Context, destPath string) (*DiffDownload, error) {
	if err := utils.EnsureParent(destPath); err != nil {
		return nil, fmt.Errorf("sdk: download diff: %w", err)
	}

	var dl *DiffDownload
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetOutputFile(destPath).
			Get(syncDownloadDiff)
		if err != nil {
			return fmt.Errorf("sdk: download diff: %w", err)
		}

		switch {
		case res.GetStatusCode() == http.StatusNoContent:
			os.Remove(destPath)
			return ErrNothingPending
		case res.IsErrorState():
			// error bodies land in destPath too
			return readErrorFile(destPath, res, "download diff")
		}

		info, err := os.Stat(destPath)
		if err != nil {
			return fmt.Errorf("sdk: download diff: %w", err)
		}

		files, _ := strconv.Atoi(res.GetHeader(HeaderBundleFiles))
		skipped, _ := strconv.Atoi(res.GetHeader(HeaderBundleSkipped))
		dl = &DiffDownload{
			Path:    destPath,
			Size:    info.Size(),
			Files:   files,
			Skipped: skipped,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dl, nil
}

// Metadata fetches the full server catalog
func (s *SyncAPI) Metadata(ctx context.Context) (*MetadataResponse, error) {
	var digests catalog.Digests
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetSuccessResult(&digests).
			Get(syncMetadata)
		return handleAPIError(res, err, "metadata")
	})
	if err != nil {
		return nil, err
	}
	if digests == nil {
		digests = catalog.Digests{}
	}
	return &MetadataResponse{Catalog: digests, Files: len(digests)}, nil
}

// Status reports whether the session has a pending diff
func (s *SyncAPI) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetSuccessResult(&resp).
			Get(syncStatus)
		return handleAPIError(res, err, "status")
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit of this device's recent sync requests, oldest first
func (s *SyncAPI) History(ctx context.Context, limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetQueryParam("limit", strconv.Itoa(limit)).
			SetSuccessResult(&resp).
			Get(syncHistory)
		return handleAPIError(res, err, "history")
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// File downloads one catalog file to destPath
func (s *SyncAPI) File(ctx context.Context, relPath, destPath string) error {
	if err := utils.EnsureParent(destPath); err != nil {
		return fmt.Errorf("sdk: file: %w", err)
	}

	return s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetOutputFile(destPath).
			Get(syncFile + escapePath(relPath))
		if err != nil {
			return fmt.Errorf("sdk: file %q: %w", relPath, err)
		}
		if res.IsErrorState() {
			err := readErrorFile(destPath, res, "file "+relPath)
			if res.GetStatusCode() == http.StatusNotFound {
				return fmt.Errorf("%w: %w", ErrFileNotFound, err)
			}
			return err
		}
		return nil
	})
}

// RefreshCatalog asks the server to rescan its library
func (s *SyncAPI) RefreshCatalog(ctx context.Context) (*RefreshCatalogResponse, error) {
	var resp RefreshCatalogResponse
	err := s.withAuth(ctx, func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetSuccessResult(&resp).
			Post(catalogRefresh)
		return handleAPIError(res, err, "refresh catalog")
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// readErrorFile decodes an error envelope that was written to an output file
func readErrorFile(path string, res *req.Response, operation string) error {
	defer os.Remove(path)

	apiErr := &APIError{Code: CodeUnknownError, Message: res.Status, Status: res.GetStatusCode()}
	if data, err := os.ReadFile(path); err == nil {
		var body APIError
		if jsonUnmarshal(data, &body) == nil && body.Code != "" {
			apiErr.Code = body.Code
			apiErr.Message = body.Message
		}
	}
	return fmt.Errorf("sdk: %s: %w", operation, apiErr)
}


func escapePath(relPath string) string {
	segs := strings.Split(relPath, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}
