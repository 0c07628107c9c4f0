// Package httpapi is the REST surface of the submission service together with
// its middleware chain and the gRPC health endpoint.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mitsnews.org/internal/assets"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/catalog"
	"mitsnews.org/internal/obs"
	"mitsnews.org/internal/stream"
	"mitsnews.org/internal/submission"
)

const serviceName = "mitsnews-api"

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Engine   *submission.Engine
	Assets   *assets.Manager
	Auth     *auth.Authenticator
	Profiles auth.ProfileStore
	Stream   *stream.Stream
	// Media serves blobs under /media/ for the local directory backend.
	Media http.Handler
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	engine   *submission.Engine
	assets   *assets.Manager
	authn    *auth.Authenticator
	profiles auth.ProfileStore
	stream   *stream.Stream
	media    http.Handler

	rateBurst      int
	ratePerSec     int
	maxUploadBytes int64
	maxUploadFiles int
	keepAlive      time.Duration
}

// Option tunes an API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSec
	}
}

// WithUploadLimits bounds one file and the number of files per request.
func WithUploadLimits(maxBytes int64, maxFiles int) Option {
	return func(a *API) {
		a.maxUploadBytes = maxBytes
		a.maxUploadFiles = maxFiles
	}
}

func New(rp ReadyProbe, version string, deps Deps, opts ...Option) *API {
	a := &API{
		mux:            http.NewServeMux(),
		readyProbe:     rp,
		version:        version,
		engine:         deps.Engine,
		assets:         deps.Assets,
		authn:          deps.Auth,
		profiles:       deps.Profiles,
		stream:         deps.Stream,
		media:          deps.Media,
		rateBurst:      20,
		ratePerSec:     10,
		maxUploadBytes: 10 << 20,
		maxUploadFiles: 20,
		keepAlive:      25 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/catalog", a.handleCatalog)
	a.mux.HandleFunc("GET /v1/gallery", a.handleGallery)
	a.mux.HandleFunc("GET /v1/me", a.handleMe)

	a.mux.HandleFunc("POST /v1/uploads", a.handleUpload)
	a.mux.HandleFunc("DELETE /v1/uploads/{key...}", a.handleRemoveUpload)

	a.mux.HandleFunc("POST /v1/submissions", a.handleCreateSubmission)
	a.mux.HandleFunc("GET /v1/submissions/mine", a.handleListOwn)
	a.mux.HandleFunc("GET /v1/submissions/{id}", a.handleGetSubmission)
	a.mux.HandleFunc("POST /v1/submissions/{id}/images", a.handleBindImages)
	a.mux.HandleFunc("POST /v1/submissions/{id}/review", a.handleReview)
	a.mux.HandleFunc("DELETE /v1/images/{id}", a.handleRemoveImage)

	a.mux.HandleFunc("GET /v1/admin/queue", a.handleQueue)
	a.mux.HandleFunc("GET /v1/admin/archive", a.handleArchive)
	a.mux.HandleFunc("GET /v1/admin/events", a.Stream)

	if a.media != nil {
		a.mux.Handle("GET /media/", http.StripPrefix("/media/", noDirListing(a.media)))
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = LoggingJSON(h)
	h = Recover(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Default())
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps core sentinels onto status codes. Persistence
// failures are logged and reported without driver detail.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, submission.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, submission.ErrNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, submission.ErrStorage):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "the request could not be saved, please try again")
	}
}

func noDirListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
