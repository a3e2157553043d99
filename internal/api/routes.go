// Package api provides HTTP handlers for the OCS scene server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/backend"
	"github.com/ocs-studio/server/internal/export"
	"github.com/ocs-studio/server/internal/metrics"
	"github.com/ocs-studio/server/internal/ocs"
	"github.com/ocs-studio/server/internal/render"
	"github.com/ocs-studio/server/internal/scene"
	"github.com/ocs-studio/server/internal/store"
)

// errBadMessage marks malformed client input.
var errBadMessage = errors.New("bad message")

// SpeciesSource provides the spectral species database.
type SpeciesSource interface {
	SpectralDB(ctx context.Context) (ocs.SpectralDB, error)
}

// RouterConfig contains router configuration.
type RouterConfig struct {
	Loop        *scene.Loop
	Renderer    *render.FrameRenderer
	Species     SpeciesSource
	Exports     *export.JobManager
	Sessions    *SessionSaver
	Gatherer    prometheus.Gatherer
	Metrics     *metrics.Collectors
	CORSOrigins []string
	Logger      *zap.Logger

	// CommandTimeout bounds how long a request waits for the scene loop.
	CommandTimeout time.Duration
}

type server struct {
	cfg    RouterConfig
	loop   *scene.Loop
	logger *zap.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	s := &server{cfg: cfg, loop: cfg.Loop, logger: cfg.Logger.Named("api")}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-None-Match"},
		ExposedHeaders:   []string{"Link", "ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	// The websocket must not sit behind the compressor.
	r.Get("/api/ws", s.websocketHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/scene", s.sceneHandler)
		r.Get("/scene/frame.png", s.frameHandler)
		r.Get("/scene/slice.png", s.sliceFrameHandler)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", s.listEntriesHandler)
			r.Post("/", s.addEntryHandler)
			r.Put("/{index}", s.updateEntryHandler)
			r.Delete("/{index}", s.deleteEntryHandler)
			r.Put("/{index}/species", s.entrySpeciesHandler)
		})

		r.Post("/fetch", s.fetchHandler)
		r.Post("/error/dismiss", s.dismissHandler)

		r.Post("/pointer/{kind}", s.pointerHandler)
		r.Post("/meshes/{index}/click", s.meshClickHandler)

		r.Post("/slice/preview", s.slicePreviewHandler)
		r.Put("/slice/offset", s.sliceOffsetHandler)

		r.Get("/selection", s.selectionHandler)
		r.Get("/species", s.speciesHandler)

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", s.exportSubmitHandler)
			r.Get("/{job_id}", s.exportStatusHandler)
			r.Get("/{job_id}/files/{name}", s.exportFileHandler)
			r.Delete("/{job_id}", s.exportDeleteHandler)
		})
	})

	return r
}

// do runs fn on the scene loop, bounded by the request context and the
// command timeout.
func (s *server) do(r *http.Request, fn func(v *scene.View) error) error {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
	defer cancel()
	return s.loop.Do(ctx, fn)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var be *backend.Error
	switch {
	case errors.Is(err, scene.ErrIndexOutOfRange),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, export.ErrBlobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ocs.ErrInvalidEntry), errors.Is(err, errBadMessage):
		status = http.StatusBadRequest
	case errors.Is(err, export.ErrNothingToExport):
		status = http.StatusConflict
	case errors.Is(err, export.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, scene.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.As(err, &be):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

// decodeBody decodes an optional JSON body. It reports false when the
// body is empty.
func decodeBody(r *http.Request, v interface{}) (bool, error) {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("invalid request body: %w", err)
	}
	return true, nil
}

func indexParam(r *http.Request, name string) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return i, nil
}

// Scene handlers

func (s *server) sceneHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
	defer cancel()
	f, err := s.loop.Snapshot(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *server) frameHandler(w http.ResponseWriter, r *http.Request) {
	s.pngHandler(w, r, "scene", s.cfg.Renderer.Render)
}

func (s *server) sliceFrameHandler(w http.ResponseWriter, r *http.Request) {
	s.pngHandler(w, r, "slice", s.cfg.Renderer.RenderSlices)
}

func (s *server) pngHandler(w http.ResponseWriter, r *http.Request, kind string, draw func(scene.Frame) ([]byte, error)) {
	if s.cfg.Renderer == nil {
		http.Error(w, "renderer not configured", http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
	defer cancel()
	f, err := s.loop.Snapshot(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}

	etag := fmt.Sprintf(`"%s-%d"`, kind, f.Revision)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	png, err := draw(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", etag)
	w.Write(png)
}

// Entry handlers

func (s *server) listEntriesHandler(w http.ResponseWriter, r *http.Request) {
	var entries []ocs.Entry
	if err := s.do(r, func(v *scene.View) error {
		entries = v.Entries()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *server) addEntryHandler(w http.ResponseWriter, r *http.Request) {
	var e ocs.Entry
	ok, err := decodeBody(r, &e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var in *ocs.Entry
	if ok {
		in = &e
	}

	var index int
	var added ocs.Entry
	if err := s.do(r, func(v *scene.View) error {
		i, err := v.AddEntry(in)
		if err != nil {
			return err
		}
		index, added = i, v.Entries()[i]
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"index": index, "entry": added})
}

func (s *server) updateEntryHandler(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r, "index")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var e ocs.Entry
	if ok, err := decodeBody(r, &e); err != nil || !ok {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.do(r, func(v *scene.View) error { return v.UpdateEntry(i, e) }); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"index": i, "entry": e})
}

func (s *server) deleteEntryHandler(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r, "index")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.do(r, func(v *scene.View) error { return v.DeleteEntry(i) }); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type speciesRequest struct {
	Species string `json:"species"`
}

func (s *server) entrySpeciesHandler(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r, "index")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req speciesRequest
	if ok, err := decodeBody(r, &req); err != nil || !ok || req.Species == "" {
		http.Error(w, "missing species", http.StatusBadRequest)
		return
	}
	if s.cfg.Species == nil {
		http.Error(w, "species database not configured", http.StatusNotImplemented)
		return
	}
	db, err := s.cfg.Species.SpectralDB(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	sp, ok := db[req.Species]
	if !ok {
		http.Error(w, "species not found: "+req.Species, http.StatusNotFound)
		return
	}

	var updated ocs.Entry
	if err := s.do(r, func(v *scene.View) error {
		if err := v.ApplySpecies(i, req.Species, sp); err != nil {
			return err
		}
		updated = v.Entries()[i]
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"index": i, "entry": updated})
}

func (s *server) fetchHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.do(r, func(v *scene.View) error {
		v.RequestFetch()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) dismissHandler(w http.ResponseWriter, r *http.Request) {
	var dismissed bool
	if err := s.do(r, func(v *scene.View) error {
		dismissed = v.DismissError()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dismissed": dismissed})
}

// Slice handlers

func (s *server) slicePreviewHandler(w http.ResponseWriter, r *http.Request) {
	var visible bool
	if err := s.do(r, func(v *scene.View) error {
		visible = v.ToggleSlicePreview()
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}

type offsetRequest struct {
	D *float32 `json:"d"`
}

func (s *server) sliceOffsetHandler(w http.ResponseWriter, r *http.Request) {
	var req offsetRequest
	if ok, err := decodeBody(r, &req); err != nil || !ok || req.D == nil {
		http.Error(w, "missing d", http.StatusBadRequest)
		return
	}
	d := *req.D
	if err := s.do(r, func(v *scene.View) error {
		v.SetPlaneOffset(d)
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	s.cfg.Sessions.SetPlaneOffset(d)
	writeJSON(w, http.StatusOK, map[string]float32{"d": d})
}

// Chart and species

type selectionResponse struct {
	Selection   *int         `json:"selection"`
	Index       int          `json:"index"`
	Available   bool         `json:"available"`
	Wavelengths []float64    `json:"wavelengths"`
	Responses   [4][]float64 `json:"responses"`
}

func (s *server) selectionHandler(w http.ResponseWriter, r *http.Request) {
	var resp selectionResponse
	if err := s.do(r, func(v *scene.View) error {
		if i, ok := v.SelectedIndex(); ok {
			resp.Selection = &i
		}
		i, curves, ok := v.SelectedCurves()
		resp.Index, resp.Available = i, ok
		resp.Wavelengths, resp.Responses = curves.Wavelengths, curves.Responses
		return nil
	}); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) speciesHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Species == nil {
		http.Error(w, "species database not configured", http.StatusNotImplemented)
		return
	}
	db, err := s.cfg.Species.SpectralDB(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"names":   db.Names(),
		"species": db,
	})
}
