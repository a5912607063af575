// Package config handles configuration loading for the colocalization tools.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the configuration shared by the CLI and the server.
type Config struct {
	Analysis AnalysisConfig `yaml:"analysis"`
	Output   OutputConfig   `yaml:"output"`
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Render   RenderConfig   `yaml:"render"`
}

// AnalysisConfig contains the membership and aggregation parameters.
type AnalysisConfig struct {
	YMax           int     `yaml:"ymax"`
	ColocThreshold float64 `yaml:"coloc_threshold"`
	Workers        int     `yaml:"workers"`
}

// OutputConfig controls the report format.
type OutputConfig struct {
	// Columns is "summary" (the six classic columns) or "full" (summary plus
	// averages).
	Columns string `yaml:"columns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port          int      `yaml:"port"`
	CORSOrigins   []string `yaml:"cors_origins"`
	MaxConcurrent int      `yaml:"max_concurrent"`
	MaxUploadMB   int      `yaml:"max_upload_mb"`
}

// StoreConfig contains run persistence settings.
type StoreConfig struct {
	SQLitePath    string `yaml:"sqlite_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	OverlaySizeMB     int `yaml:"overlay_size_mb"`
	OverlayTTLMinutes int `yaml:"overlay_ttl_minutes"`
	ResultEntries     int `yaml:"result_entries"`
}

// RenderConfig contains overlay rendering settings.
type RenderConfig struct {
	Size         int     `yaml:"size"`
	SpotRadius   float64 `yaml:"spot_radius"`
	Colormap     string  `yaml:"colormap"`
	OutlineWidth float64 `yaml:"outline_width"`
}

const (
	ColumnsSummary = "summary"
	ColumnsFull    = "full"
)

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	// The threshold is prefilled so an explicit 0 in the file is kept.
	cfg := Config{Analysis: AnalysisConfig{ColocThreshold: DefaultConfig().Analysis.ColocThreshold}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			YMax:           2048,
			ColocThreshold: 0.3,
			Workers:        4,
		},
		Output: OutputConfig{
			Columns: ColumnsSummary,
		},
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			MaxConcurrent: 1,
			MaxUploadMB:   64,
		},
		Store: StoreConfig{
			SQLitePath:    "./data/runs.sqlite",
			RetentionDays: 7,
		},
		Cache: CacheConfig{
			OverlaySizeMB:     128,
			OverlayTTLMinutes: 10,
			ResultEntries:     256,
		},
		Render: RenderConfig{
			Size:         1024,
			SpotRadius:   1.5,
			Colormap:     "viridis",
			OutlineWidth: 1,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Analysis.YMax == 0 {
		cfg.Analysis.YMax = defaults.Analysis.YMax
	}
	if cfg.Analysis.Workers == 0 {
		cfg.Analysis.Workers = defaults.Analysis.Workers
	}
	if cfg.Output.Columns == "" {
		cfg.Output.Columns = defaults.Output.Columns
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = defaults.Server.MaxConcurrent
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = defaults.Server.MaxUploadMB
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Store.RetentionDays == 0 {
		cfg.Store.RetentionDays = defaults.Store.RetentionDays
	}
	if cfg.Cache.OverlaySizeMB == 0 {
		cfg.Cache.OverlaySizeMB = defaults.Cache.OverlaySizeMB
	}
	if cfg.Cache.OverlayTTLMinutes == 0 {
		cfg.Cache.OverlayTTLMinutes = defaults.Cache.OverlayTTLMinutes
	}
	if cfg.Cache.ResultEntries == 0 {
		cfg.Cache.ResultEntries = defaults.Cache.ResultEntries
	}
	if cfg.Render.Size == 0 {
		cfg.Render.Size = defaults.Render.Size
	}
	if cfg.Render.SpotRadius == 0 {
		cfg.Render.SpotRadius = defaults.Render.SpotRadius
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Render.OutlineWidth == 0 {
		cfg.Render.OutlineWidth = defaults.Render.OutlineWidth
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Analysis.YMax <= 0 {
		return fmt.Errorf("%w: analysis.ymax must be positive, got %d", ErrInvalid, c.Analysis.YMax)
	}
	if math.IsNaN(c.Analysis.ColocThreshold) || math.IsInf(c.Analysis.ColocThreshold, 0) {
		return fmt.Errorf("%w: analysis.coloc_threshold must be finite", ErrInvalid)
	}
	if c.Analysis.Workers < 1 {
		return fmt.Errorf("%w: analysis.workers must be at least 1, got %d", ErrInvalid, c.Analysis.Workers)
	}
	if c.Output.Columns != ColumnsSummary && c.Output.Columns != ColumnsFull {
		return fmt.Errorf("%w: output.columns must be %q or %q, got %q", ErrInvalid, ColumnsSummary, ColumnsFull, c.Output.Columns)
	}
	if c.Server.MaxConcurrent < 1 {
		return fmt.Errorf("%w: server.max_concurrent must be at least 1", ErrInvalid)
	}
	if c.Render.Size <= 0 {
		return fmt.Errorf("%w: render.size must be positive", ErrInvalid)
	}
	return nil
}
