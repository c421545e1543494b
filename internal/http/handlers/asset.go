package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/songforge/songforge/internal/service"
	"github.com/songforge/songforge/internal/storage"
)

// AssetHandler streams stored artifacts with single-range support. It is a
// plain chi handler: range semantics and large bodies do not fit the typed
// operation model.
type AssetHandler struct {
	svc    *service.GenerationService
	store  storage.Store
	logger *slog.Logger
}

// NewAssetHandler creates a new asset handler.
func NewAssetHandler(svc *service.GenerationService, store storage.Store, logger *slog.Logger) *AssetHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetHandler{svc: svc, store: store, logger: logger}
}

// Register registers the asset route on the router.
func (h *AssetHandler) Register(router *chi.Mux) {
	router.Get("/v1/assets/{id}", h.Serve)
	router.Head("/v1/assets/{id}", h.Serve)
}

// Serve streams one asset, honoring a single bytes range.
func (h *AssetHandler) Serve(w http.ResponseWriter, r *http.Request) {
	asset, err := h.svc.GetAsset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("asset lookup failed", slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if asset == nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	info, err := h.store.Stat(r.Context(), asset.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}
		h.logger.Error("asset stat failed",
			slog.String("key", asset.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	contentType := asset.Mime
	if contentType == "" {
		contentType = asset.Kind.MimeType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	offset, length, ok := parseRange(r.Header.Get("Range"), info.Size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		http.Error(w, "requested range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	partial := length < info.Size
	if partial {
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, info.Size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	status := http.StatusOK
	if partial {
		status = http.StatusPartialContent
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}

	reader, _, err := h.store.OpenRange(r.Context(), asset.Path, offset, length)
	if err != nil {
		h.logger.Error("asset open failed",
			slog.String("key", asset.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	defer reader.Close()

	w.WriteHeader(status)
	if _, err := io.Copy(w, reader); err != nil {
		// Client went away mid-stream; nothing to send anymore.
		h.logger.Debug("asset stream interrupted", slog.String("error", err.Error()))
	}
}

// parseRange interprets a single bytes range against the object size. An empty
// header selects the whole object. Multi-range requests fall back to the whole
// object; a syntactically valid but unsatisfiable range reports !ok.
func parseRange(header string, size int64) (offset, length int64, ok bool) {
	if header == "" {
		return 0, size, true
	}
	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, size, true
	}

	start, end, found := strings.Cut(spec, "-")
	if !found {
		return 0, size, true
	}

	if start == "" {
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(end, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, n, true
	}

	from, err := strconv.ParseInt(start, 10, 64)
	if err != nil || from < 0 || from >= size {
		return 0, 0, false
	}
	if end == "" {
		return from, size - from, true
	}
	to, err := strconv.ParseInt(end, 10, 64)
	if err != nil || to < from {
		return 0, 0, false
	}
	if to >= size {
		to = size - 1
	}
	return from, to - from + 1, true
}
