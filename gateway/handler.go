package gateway

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/internal/httpheader"
)

// Mode selects how GET requests on directories and missing objects are
// served.
type Mode int

const (
	// ModeStore lists directories as JSON.
	ModeStore Mode = iota
	// ModeStatic serves dir/index.html for a directory.
	ModeStatic
	// ModeSPA is ModeStatic that also answers missing paths with the
	// root index.html.
	ModeSPA
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeSPA:
		return "spa"
	default:
		return "store"
	}
}

// ParseMode parses "store", "static" or "spa".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "store", "":
		return ModeStore, nil
	case "static":
		return ModeStatic, nil
	case "spa":
		return ModeSPA, nil
	default:
		return ModeStore, fmt.Errorf("invalid server mode %q", s)
	}
}

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	indexFile        = "index.html"

	// HealthPath and MetricsPath are served outside the object namespace.
	HealthPath  = "/-/healthz"
	MetricsPath = "/-/metrics"
)

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	Mode          Mode
	ReadVerifier  RequestVerifier
	WriteVerifier RequestVerifier
	CORS          CORSConfig
	// MaxUploadSize caps PUT bodies in bytes. 0 means no limit.
	MaxUploadSize int64
	// Metrics is served on MetricsPath when set.
	Metrics prometheus.Gatherer
}

// Handler serves an Operator over HTTP.
type Handler struct {
	config HandlerConfig
	op     *anystore.Operator
}

// NewHandler creates a new Handler with the given configuration and operator.
func NewHandler(config *HandlerConfig, op *anystore.Operator) *Handler {
	return &Handler{
		config: *config,
		op:     op,
	}
}

// Router returns the http.Handler serving every route. Reads (GET, HEAD)
// and writes (PUT, DELETE) are checked by their own verifier.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get(HealthPath, h.handleHealth)
	if h.config.Metrics != nil {
		r.Method(http.MethodGet, MetricsPath, promhttp.HandlerFor(h.config.Metrics, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.ReadVerifier))
		r.Get("/*", h.handleGet)
		r.Head("/*", h.handleHead)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.config.WriteVerifier))
		r.Put("/*", h.handlePut)
		r.Delete("/*", h.handleDelete)
	})

	return r
}

func objectPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, "/")
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.op.Check(r.Context()); err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": h.op.Info().Scheme})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	if anystore.IsDir(path) {
		if h.config.Mode == ModeStore {
			h.handleList(w, r, path)
			return
		}
		path += indexFile
	}

	meta, path, err := h.resolve(r, path)
	if err != nil {
		if anystore.IsKind(err, anystore.KindNotFound) && h.config.Mode != ModeStore && wantsHTML(r) {
			writeDefaultNotFound(w)
			return
		}
		HandleError(w, err)
		return
	}

	content, err := h.op.Reader(r.Context(), path, anystore.ReadOptions{})
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = content.Close() }()
	if n, ok := meta.ContentLength(); ok {
		content.SetObjectSize(n)
	}

	httpheader.SetMetadata(w.Header(), meta)
	// ServeContent computes the length of what it sends.
	w.Header().Del("Content-Length")

	modTime, _ := meta.LastModified()
	http.ServeContent(w, r, path, modTime, content)
}

// resolve stats path, falling back to index files in static and SPA mode.
// It returns the path that was found.
func (h *Handler) resolve(r *http.Request, path string) (anystore.Metadata, string, error) {
	meta, err := h.op.Stat(r.Context(), path)
	if err == nil || h.config.Mode == ModeStore || !anystore.IsKind(err, anystore.KindNotFound) {
		return meta, path, err
	}

	if !strings.HasSuffix(path, indexFile) {
		if meta, err := h.op.Stat(r.Context(), path+"/"+indexFile); err == nil {
			return meta, path + "/" + indexFile, nil
		}
	}
	if h.config.Mode == ModeSPA && path != indexFile {
		if meta, err := h.op.Stat(r.Context(), indexFile); err == nil {
			return meta, indexFile, nil
		}
	}
	return anystore.Metadata{}, path, err
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	meta, err := h.op.Stat(r.Context(), path)
	if err != nil {
		code, _ := StatusOf(err)
		w.WriteHeader(code)
		return
	}

	httpheader.SetMetadata(w.Header(), meta)
	if etag, ok := meta.ETag(); ok && matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, path string) {
	query := r.URL.Query()

	limit := defaultListLimit
	if s := query.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil {
			limit = max(1, min(maxListLimit, parsed))
		}
	}

	opts := anystore.ListOptions{Limit: limit}
	if cursor := query.Get("cursor"); cursor != "" {
		token, err := anystore.ParseToken(cursor)
		if err != nil {
			HandleError(w, err)
			return
		}
		opts.Token = token
	}
	if query.Get("recursive") == "true" {
		opts.Recursive = true
	}

	lister, err := h.op.List(r.Context(), path, opts)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = lister.Close() }()

	result := ListResult{Items: []ObjectInfo{}}
	page, err := lister.NextPage(r.Context())
	if err != nil && !errors.Is(err, io.EOF) {
		HandleError(w, err)
		return
	}
	for _, e := range page {
		result.Items = append(result.Items, objectInfo(e.Path, e.Metadata))
	}
	if token := lister.Token(); err == nil && !token.IsZero() {
		result.NextCursor = token.String()
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)
	ctx := r.Context()

	if path == "" {
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid path")
		return
	}

	if anystore.IsDir(path) {
		if err := h.op.CreateDir(ctx, path); err != nil {
			HandleError(w, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, objectInfo(path, anystore.NewMetadata(anystore.ModeDir)))
		return
	}

	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		existing, err := h.op.Stat(ctx, path)
		if err != nil && !anystore.IsKind(err, anystore.KindNotFound) {
			HandleError(w, err)
			return
		}
		etag, _ := existing.ETag()
		if err != nil || !matchesETag(ifMatch, etag) {
			WriteError(w, http.StatusPreconditionFailed, "precondition_failed", "ETag mismatch")
			return
		}
	}

	opts := h.writeOptions(r)

	body := io.Reader(r.Body)
	if h.config.MaxUploadSize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	}

	meta, err := h.op.WriteFrom(ctx, path, body, opts)
	if err != nil {
		HandleError(w, err)
		return
	}

	if etag, ok := meta.ETag(); ok {
		w.Header().Set("ETag", httpheader.QuoteETag(etag))
	}
	_ = WriteJSON(w, http.StatusOK, objectInfo(path, meta))
}

// writeOptions carries the request headers the backend can store.
func (h *Handler) writeOptions(r *http.Request) anystore.WriteOptions {
	c := h.op.Capability()
	var opts anystore.WriteOptions
	if r.ContentLength > 0 {
		opts.SizeHint = r.ContentLength
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && c.WriteWithContentType {
		opts.ContentType = ct
	}
	if cd := r.Header.Get("Content-Disposition"); cd != "" && c.WriteWithContentDisposition {
		opts.ContentDisposition = cd
	}
	if strings.TrimSpace(r.Header.Get("If-None-Match")) == "*" {
		opts.IfNotExists = true
	}
	return opts
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := objectPath(r)

	if path == "" {
		WriteError(w, http.StatusBadRequest, "invalid_path", "Invalid path")
		return
	}

	var err error
	if anystore.IsDir(path) && r.URL.Query().Get("recursive") == "true" {
		err = h.op.RemoveAll(r.Context(), path)
	} else {
		err = h.op.Delete(r.Context(), path)
	}
	if err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// matchesETag reports whether a comma separated If-Match or If-None-Match
// list names etag. "*" matches any existing object.
func matchesETag(header, etag string) bool {
	if header == "" || etag == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || httpheader.UnquoteETag(candidate) == etag {
			return true
		}
	}
	return false
}
