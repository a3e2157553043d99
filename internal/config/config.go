// Package config handles configuration loading for the OCS scene server.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Scene   SceneConfig   `yaml:"scene"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
	Store   StoreConfig   `yaml:"store"`
	Export  ExportConfig  `yaml:"export"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	FrameRate   int      `yaml:"frame_rate"`
}

// BackendConfig locates the geometry, slice and spectral services.
type BackendConfig struct {
	OCSURL         string `yaml:"ocs_url"`
	SliceURL       string `yaml:"slice_url"`
	SpectralDBURL  string `yaml:"spectral_db_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// SceneConfig contains layout and interaction constants.
type SceneConfig struct {
	GridSpacing     float32 `yaml:"grid_spacing"`
	SliceSpacing    float32 `yaml:"slice_spacing"`
	DragSensitivity float32 `yaml:"drag_sensitivity"`
	MeshScale       float32 `yaml:"mesh_scale"`
	SliceScale      float32 `yaml:"slice_scale"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB        int `yaml:"frame_size_mb"`
	FrameTTLSeconds    int `yaml:"frame_ttl_seconds"`
	ResponseCacheSize  int `yaml:"response_cache_size"`
	SpectralTTLMinutes int `yaml:"spectral_ttl_minutes"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	FrameSize      int    `yaml:"frame_size"`
	SliceFrameSize int    `yaml:"slice_frame_size"`
	Background     string `yaml:"background"`
}

// StoreConfig locates the session database.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// ExportConfig selects where PLY exports are written.
type ExportConfig struct {
	Driver        string `yaml:"driver"` // fs, s3 or memory
	Dir           string `yaml:"dir"`
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	PathStyle     bool   `yaml:"path_style"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	RetentionDays int    `yaml:"retention_days"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		cfg := DefaultConfig()
		applyEnv(cfg)
		return cfg, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			FrameRate:   30,
		},
		Backend: BackendConfig{
			OCSURL:         "http://localhost:5000",
			SliceURL:       "http://localhost:5050",
			SpectralDBURL:  "http://localhost:5050",
			TimeoutSeconds: 60,
		},
		Scene: SceneConfig{
			GridSpacing:     1.5,
			SliceSpacing:    1.5,
			DragSensitivity: 0.01,
			MeshScale:       0.5,
			SliceScale:      5,
		},
		Cache: CacheConfig{
			FrameSizeMB:        64,
			FrameTTLSeconds:    60,
			ResponseCacheSize:  64,
			SpectralTTLMinutes: 30,
		},
		Render: RenderConfig{
			FrameSize:      512,
			SliceFrameSize: 256,
			Background:     "#ffffff",
		},
		Store: StoreConfig{
			SQLitePath: "./data/ocs.sqlite",
		},
		Export: ExportConfig{
			Driver:        "fs",
			Dir:           "./data/exports",
			Region:        "us-east-1",
			MaxConcurrent: 2,
			RetentionDays: 7,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.FrameRate == 0 {
		cfg.Server.FrameRate = defaults.Server.FrameRate
	}
	if cfg.Backend.OCSURL == "" {
		cfg.Backend.OCSURL = defaults.Backend.OCSURL
	}
	if cfg.Backend.SliceURL == "" {
		cfg.Backend.SliceURL = defaults.Backend.SliceURL
	}
	if cfg.Backend.SpectralDBURL == "" {
		cfg.Backend.SpectralDBURL = defaults.Backend.SpectralDBURL
	}
	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = defaults.Backend.TimeoutSeconds
	}
	if cfg.Scene.GridSpacing == 0 {
		cfg.Scene.GridSpacing = defaults.Scene.GridSpacing
	}
	if cfg.Scene.SliceSpacing == 0 {
		cfg.Scene.SliceSpacing = defaults.Scene.SliceSpacing
	}
	if cfg.Scene.DragSensitivity == 0 {
		cfg.Scene.DragSensitivity = defaults.Scene.DragSensitivity
	}
	if cfg.Scene.MeshScale == 0 {
		cfg.Scene.MeshScale = defaults.Scene.MeshScale
	}
	if cfg.Scene.SliceScale == 0 {
		cfg.Scene.SliceScale = defaults.Scene.SliceScale
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLSeconds == 0 {
		cfg.Cache.FrameTTLSeconds = defaults.Cache.FrameTTLSeconds
	}
	if cfg.Cache.ResponseCacheSize == 0 {
		cfg.Cache.ResponseCacheSize = defaults.Cache.ResponseCacheSize
	}
	if cfg.Cache.SpectralTTLMinutes == 0 {
		cfg.Cache.SpectralTTLMinutes = defaults.Cache.SpectralTTLMinutes
	}
	if cfg.Render.FrameSize == 0 {
		cfg.Render.FrameSize = defaults.Render.FrameSize
	}
	if cfg.Render.SliceFrameSize == 0 {
		cfg.Render.SliceFrameSize = defaults.Render.SliceFrameSize
	}
	if cfg.Render.Background == "" {
		cfg.Render.Background = defaults.Render.Background
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Export.Driver == "" {
		cfg.Export.Driver = defaults.Export.Driver
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = defaults.Export.Dir
	}
	if cfg.Export.Region == "" {
		cfg.Export.Region = defaults.Export.Region
	}
	if cfg.Export.MaxConcurrent == 0 {
		cfg.Export.MaxConcurrent = defaults.Export.MaxConcurrent
	}
	if cfg.Export.RetentionDays == 0 {
		cfg.Export.RetentionDays = defaults.Export.RetentionDays
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// applyEnv lets OCS_BACKEND_URL, OCS_SLICE_URL and OCS_PORT override the
// file. OCS_SLICE_URL also moves the spectral database, which the original
// backend serves next to the slicer.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OCS_BACKEND_URL"); v != "" {
		cfg.Backend.OCSURL = v
	}
	if v := os.Getenv("OCS_SLICE_URL"); v != "" {
		cfg.Backend.SliceURL = v
		cfg.Backend.SpectralDBURL = v
	}
	if v := os.Getenv("OCS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
}
