// Package backend talks to the services that compute OCS geometry, slices
// and the spectral species database.
package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/ocs-studio/server/internal/cache"
	"github.com/ocs-studio/server/internal/ocs"
)

const (
	ocsPath        = "/get_ocs_data"
	slicePath      = "/compute_ocs_slice"
	spectralDBPath = "/get_spectral_db"

	spectralDBKey = "spectral_db"

	maxBodyBytes = 256 << 20
)

// Config configures a Client.
type Config struct {
	OCSURL        string
	SliceURL      string
	SpectralDBURL string
	Timeout       time.Duration
	SpectralTTL   time.Duration

	// Cache, when set, keeps the last good spectral database body so species
	// lookups survive a backend outage. Geometry and slice bodies are never
	// cached: the slicer cuts the batch it generated last, so every submit
	// must reach the backend.
	Cache *cache.Manager
	// HTTPClient overrides the default gzip-aware client.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client performs one batched request per call.
type Client struct {
	ocsURL        string
	sliceURL      string
	spectralDBURL string
	http          *http.Client
	responses     *cache.Manager
	species       *gocache.Cache
	logger        *zap.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}
	ttl := cfg.SpectralTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ocsURL:        strings.TrimRight(cfg.OCSURL, "/"),
		sliceURL:      strings.TrimRight(cfg.SliceURL, "/"),
		spectralDBURL: strings.TrimRight(cfg.SpectralDBURL, "/"),
		http:          hc,
		responses:     cfg.Cache,
		species:       gocache.New(ttl, ttl/2),
		logger:        logger.Named("backend"),
	}
}

// FetchOCS requests geometry for every entry in one batch. The result is
// aligned with entries. Every call issues exactly one request.
func (c *Client) FetchOCS(ctx context.Context, entries []ocs.Entry) ([]ocs.RenderRecord, error) {
	query := ocs.EncodeBatch(entries)
	body, err := c.get(ctx, "geometry", c.ocsURL, ocsPath, query)
	if err != nil {
		return nil, err
	}
	records, err := ocs.DecodeOCSBatch(body)
	if err != nil {
		return nil, malformedError("geometry", err)
	}
	if len(records) != len(entries) {
		return nil, malformedError("geometry",
			fmt.Errorf("expected %d records, got %d", len(entries), len(records)))
	}
	return records, nil
}

// FetchSlice requests the cross-section of n solids by plane. The slicer
// cuts whatever solids it generated last, so slice bodies are never cached.
func (c *Client) FetchSlice(ctx context.Context, plane ocs.SlicePlane, n int) ([]ocs.RenderRecord, error) {
	query := plane.Query(n)
	body, err := c.get(ctx, "slice", c.sliceURL, slicePath, query)
	if err != nil {
		return nil, err
	}
	records, err := ocs.DecodeSliceBatch(body)
	if err != nil {
		return nil, malformedError("slice", err)
	}
	if len(records) != n {
		return nil, malformedError("slice", fmt.Errorf("expected %d records, got %d", n, len(records)))
	}
	return records, nil
}

// SpectralDB returns the species database, cached for the configured TTL.
// When a refresh fails and an earlier body is held in the response cache,
// that body is served instead of the error.
func (c *Client) SpectralDB(ctx context.Context) (ocs.SpectralDB, error) {
	if v, ok := c.species.Get(spectralDBKey); ok {
		return v.(ocs.SpectralDB), nil
	}
	key := cache.ResponseKey(spectralDBPath, "")
	body, err := c.get(ctx, "spectral database", c.spectralDBURL, spectralDBPath, nil)
	if err != nil {
		if db, ok := c.lastSpectralDB(key); ok {
			c.logger.Warn("spectral database refresh failed, serving last good copy", zap.Error(err))
			return db, nil
		}
		return nil, err
	}
	db, err := ocs.DecodeSpectralDB(body)
	if err != nil {
		return nil, malformedError("spectral database", err)
	}
	c.species.Set(spectralDBKey, db, gocache.DefaultExpiration)
	if c.responses != nil {
		c.responses.SetResponse(key, body)
	}
	return db, nil
}

func (c *Client) lastSpectralDB(key string) (ocs.SpectralDB, bool) {
	if c.responses == nil {
		return nil, false
	}
	body, ok := c.responses.GetResponse(key)
	if !ok {
		return nil, false
	}
	db, err := ocs.DecodeSpectralDB(body)
	if err != nil {
		return nil, false
	}
	return db, true
}

// InvalidateSpectralDB drops the cached species database.
func (c *Client) InvalidateSpectralDB() {
	c.species.Delete(spectralDBKey)
}

func (c *Client) get(ctx context.Context, op, base, path string, query url.Values) ([]byte, error) {
	rawQuery := query.Encode()

	u := base + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, malformedError(op, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(op, resp.StatusCode, body)
	}

	c.logger.Debug("backend response",
		zap.String("path", path),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	return body, nil
}
