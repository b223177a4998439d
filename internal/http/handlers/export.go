package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/epgview/internal/service"
)

// ExportHandler serves the raw XMLTV exports. These are byte routes, not
// JSON: the gzip variant streams a single deflate stream shared with the
// artifact cache, so they register directly on the router.
type ExportHandler struct {
	svc *service.ExportService
}

// NewExportHandler creates an export handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{svc: svc}
}

// Register registers the export download routes.
func (h *ExportHandler) Register(router *chi.Mux) {
	router.Get("/epg.xml.gz", h.ServeGzip)
	router.Get("/api/export/epg.xml.gz", h.ServeGzip)
	router.Get("/epg.xml", h.ServePlain)
	router.Get("/api/export/epg.xml", h.ServePlain)
}

// queryParams extracts export parameters from a raw request. Absent window
// parameters imply a full export.
func queryParams(r *http.Request) (service.ExportParams, error) {
	q := r.URL.Query()
	params := service.ExportParams{
		PlaylistURL: q.Get("playlist"),
		EpgURL:      q.Get("epg"),
		Full:        q.Get("full") == "1",
	}

	parseDays := func(name string) (*int, error) {
		s := q.Get(name)
		if s == "" {
			return nil, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid %s value %q", name, s)
		}
		return &v, nil
	}

	var err error
	if params.PastDays, err = parseDays("pastDays"); err != nil {
		return params, err
	}
	if params.FutureDays, err = parseDays("futureDays"); err != nil {
		return params, err
	}
	return params, nil
}

// ServeGzip streams the gzip export, reusing the cached artifact when the
// fingerprint matches.
func (h *ExportHandler) ServeGzip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := queryParams(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.Resolve(ctx, params)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve export")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "epg.xml.gz"
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if _, err := h.svc.ServeGzip(ctx, w, req); err != nil {
		// Headers are gone once streaming began; a failed start still gets
		// a clean JSON error.
		if errors.Is(err, ctx.Err()) {
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "export failed")
	}
}

// ServePlain streams the uncompressed export.
func (h *ExportHandler) ServePlain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := queryParams(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.svc.Resolve(ctx, params)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to resolve export")
		return
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "epg.xml"
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)

	if _, err := h.svc.ServePlain(ctx, w, req); err != nil {
		if errors.Is(err, ctx.Err()) {
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "export failed")
	}
}
