package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"mediaprobe/pkg/duration"
	"mediaprobe/pkg/media"
	"mediaprobe/pkg/model"
	"mediaprobe/pkg/request"
)

// multipartMemory is how much of an upload is held in memory before spilling to disk.
const multipartMemory = 8 << 20

// multipartOverhead allows for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// Fetcher downloads remote media. *request.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (media.Source, error)
}

// MediaHandler serves duration probes and probe history.
type MediaHandler struct {
	svc     *duration.Service
	fetcher Fetcher
}

// NewMediaHandler creates a new MediaHandler. fetcher may be nil, in which
// case URL probes are rejected.
func NewMediaHandler(svc *duration.Service, fetcher Fetcher) *MediaHandler {
	return &MediaHandler{svc: svc, fetcher: fetcher}
}

// URLRequest is the body of POST /api/media/duration/url.
type URLRequest struct {
	URL string `json:"url"`
}

// HandleUpload probes the multipart field "file".
func (h *MediaHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.MaxBytes()+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("API: failed to remove multipart temp files", "error", err)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing form field 'file'", http.StatusBadRequest)
		return
	}
	file.Close()

	src := media.FromOpener(header.Filename, header.Size, func() (io.ReadCloser, error) {
		return header.Open()
	})
	h.probe(w, r, "upload", src)
}

// HandleURL downloads and probes the URL in the JSON body.
func (h *MediaHandler) HandleURL(w http.ResponseWriter, r *http.Request) {
	if h.fetcher == nil {
		http.Error(w, "url probes are disabled", http.StatusNotImplemented)
		return
	}

	var req URLRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	src, err := h.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		slog.Warn("API: failed to fetch remote media", "url", req.URL, "error", err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.probe(w, r, "url", src)
}

func (h *MediaHandler) probe(w http.ResponseWriter, r *http.Request, origin string, src media.Source) {
	rec, err := h.svc.ProbeFrom(r.Context(), origin, src)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !rec.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, rec)
}

// HandleRecent lists probe history, newest first.
func (h *MediaHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	recs, err := h.svc.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("API: failed to list recent probes", "error", err)
		http.Error(w, "failed to list probes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recentResponse{Probes: recs})
}

type recentResponse struct {
	Probes []*model.ProbeRecord `json:"probes"`
}

// statusFor maps service and download errors to HTTP status codes.
func statusFor(err error) int {
	var statusErr *request.StatusError
	switch {
	case errors.Is(err, duration.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, duration.ErrTooLarge), errors.Is(err, request.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, request.ErrUnsupportedScheme), errors.Is(err, request.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("API: failed to write response", "error", err)
	}
}
