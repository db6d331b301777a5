package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/mdbmanager/mdbsync/internal/server/bundle"
	"github.com/mdbmanager/mdbsync/internal/server/catalog"
	"github.com/mdbmanager/mdbsync/internal/server/diff"
	"github.com/mdbmanager/mdbsync/internal/server/handlers/api"
	"github.com/mdbmanager/mdbsync/internal/server/middlewares"
	"github.com/mdbmanager/mdbsync/internal/server/syncer"
	"github.com/mdbmanager/mdbsync/internal/utils"
)

const (
	// a catalog of a few hundred thousand tracks fits comfortably
	maxMetadataBytes = 64 << 20

	headerDiffFiles     = "X-Diff-Files"
	headerCatalogFiles  = "X-Catalog-Files"
	headerBundleFiles   = "X-Bundle-Files"
	headerBundleSkipped = "X-Bundle-Skipped"
	bundleFileName      = "diff.zip"
)

// CatalogService is the part of the catalog the HTTP surface needs
type CatalogService interface {
	Snapshot() *catalog.Snapshot
	Refresh(ctx context.Context) (*catalog.RefreshResult, error)
}

type SyncHandler struct {
	syncer   *syncer.Service
	catalog  CatalogService
	resolver bundle.Resolver
}

func New(svc *syncer.Service, cat CatalogService, resolver bundle.Resolver) *SyncHandler {
	return &SyncHandler{
		syncer:   svc,
		catalog:  cat,
		resolver: resolver,
	}
}

// UploadMetadata accepts the client's path -> digest catalog and answers with
// the diff that the next DownloadDiff will bundle, as a bare path -> digest
// object. {} means the client is already in sync. Client entries are never
// validated: ones the server does not know are ignored by the diff.
func (h *SyncHandler) UploadMetadata(ctx *gin.Context) {
	body := http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxMetadataBytes)

	var client catalog.Digests
	if err := json.NewDecoder(body).Decode(&client); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeSyncInvalidMetadata, fmt.Errorf("failed to decode metadata: %w", err))
		return
	}

	result, err := h.syncer.UploadMetadata(ctx.Request.Context(), middlewares.GetSessionKey(ctx), client)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	if result == nil {
		result = diff.Result{}
	}
	ctx.Header(headerDiffFiles, strconv.Itoa(result.Len()))
	ctx.JSON(http.StatusOK, result)
}

// DownloadDiff serves the session's pending diff as a zip archive.
// Nothing pending, an expired ticket and an empty diff all answer 204.
func (h *SyncHandler) DownloadDiff(ctx *gin.Context) {
	b, err := h.syncer.DownloadDiff(ctx.Request.Context(), middlewares.GetSessionKey(ctx))
	if errors.Is(err, syncer.ErrNothingPending) {
		ctx.Status(http.StatusNoContent)
		return
	} else if err != nil {
		if ctx.Request.Context().Err() != nil {
			// client went away
			ctx.Abort()
			ctx.Error(err)
			return
		}
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeSyncBundleFailed, err)
		return
	}

	if b.Empty() {
		ctx.Status(http.StatusNoContent)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundleFileName))
	ctx.Header(headerBundleFiles, strconv.Itoa(len(b.Manifest.Entries)))
	ctx.Header(headerBundleSkipped, strconv.Itoa(len(b.Manifest.Skipped)))
	ctx.Data(http.StatusOK, bundle.ContentType, b.Data)
}

// Metadata returns the full server catalog as a bare path -> digest object
func (h *SyncHandler) Metadata(ctx *gin.Context) {
	digests, err := h.syncer.Metadata(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	if digests == nil {
		digests = catalog.Digests{}
	}
	ctx.Header(headerCatalogFiles, strconv.Itoa(len(digests)))
	ctx.JSON(http.StatusOK, digests)
}

func (h *SyncHandler) Status(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.syncer.Status(middlewares.GetSessionKey(ctx)))
}

// File streams one catalog file
func (h *SyncHandler) File(ctx *gin.Context) {
	relPath := strings.TrimPrefix(ctx.Param("path"), "/")
	if err := bundle.ValidatePath(relPath); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeCatalogInvalidPath, err)
		return
	}

	rec, ok := h.catalog.Snapshot().Get(relPath)
	if !ok {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeCatalogFileNotFound, fmt.Errorf("%q is not in the catalog", relPath))
		return
	}

	rc, info, err := h.resolver.Open(ctx.Request.Context(), relPath)
	if errors.Is(err, fs.ErrNotExist) {
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeCatalogFileNotFound, fmt.Errorf("%q is missing on disk", relPath))
		return
	} else if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	defer rc.Close()

	ctx.DataFromReader(http.StatusOK, info.Size(), utils.DetectContentType(relPath), io.NopCloser(rc), map[string]string{
		"ETag":                strconv.Quote(rec.Digest),
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", path.Base(relPath)),
	})
}

// RefreshCatalog rescans the content root and reports what changed
func (h *SyncHandler) RefreshCatalog(ctx *gin.Context) {
	result, err := h.catalog.Refresh(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeCatalogRefreshFailed, err)
		return
	}

	ctx.JSON(http.StatusOK, result)
}
