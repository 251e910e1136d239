// Package config loads the compositor and CLI settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// MaxInputSize limits a config document.
var MaxInputSize = 1 << 20

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParse    = errors.New("failed to parse config")
	ErrInvalid        = errors.New("invalid config")
)

// Cache kinds.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Catalog sources.
const (
	SourceFile  = "file"
	SourcePgSQL = "pgsql"
	SourceMySQL = "mysql"
)

type Config struct {
	Render  RenderConfig  `yaml:"render"`
	Images  ImagesConfig  `yaml:"images"`
	Cache   CacheConfig   `yaml:"cache"`
	Catalog CatalogConfig `yaml:"catalog"`
	Log     LogConfig     `yaml:"log"`
}

// RenderConfig tunes rasterization and typography. Supersample is the
// raster canvas multiple of the target rectangle and CanvasCap the largest
// raster side in pixels. ZoomMin and ZoomMax clamp the clip-mask user
// scale. Floors are in points.
type RenderConfig struct {
	Supersample    int     `yaml:"supersample"`
	CanvasCap      int     `yaml:"canvas_cap"`
	ZoomMin        float64 `yaml:"zoom_min"`
	ZoomMax        float64 `yaml:"zoom_max"`
	MinFontSize    float64 `yaml:"min_font_size"`
	MinStrokeWidth float64 `yaml:"min_stroke_width"`
	Currency       string  `yaml:"currency"`
	Locale         string  `yaml:"locale"`
}

// ImagesConfig bounds image fetching. BaseURL is the same-origin host whose
// paths are read from StorageRoot when set. Prefetch is the number of
// parallel fetches per page.
type ImagesConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	BaseURL     string        `yaml:"base_url"`
	StorageRoot string        `yaml:"storage_root"`
	MaxBytes    int64         `yaml:"max_bytes"`
	Prefetch    int           `yaml:"prefetch"`
}

type CacheConfig struct {
	Kind       string        `yaml:"kind"`
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type CatalogConfig struct {
	Source   string `yaml:"source"`
	DSN      string `yaml:"dsn"`
	TenantID string `yaml:"tenant_id"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Render: RenderConfig{
			Supersample:    3,
			CanvasCap:      2400,
			ZoomMin:        0.1,
			ZoomMax:        8,
			MinFontSize:    4,
			MinStrokeWidth: 0.25,
			Currency:       "€",
			Locale:         "fr",
		},
		Images: ImagesConfig{
			Timeout:  4 * time.Second,
			Retries:  1,
			MaxBytes: 20 << 20,
			Prefetch: 4,
		},
		Cache: CacheConfig{
			Kind:       CacheNone,
			TTL:        10 * time.Minute,
			MaxEntries: 256,
		},
		Catalog: CatalogConfig{Source: SourceFile},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads a config file. Keys absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document strictly; unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) > MaxInputSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrConfigParse, len(data), MaxInputSize)
	}
	if len(data) > 0 {
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	r := c.Render
	if r.Supersample < 1 || r.Supersample > 8 {
		return fmt.Errorf("%w: render.supersample must be between 1 and 8, got %d", ErrInvalid, r.Supersample)
	}
	if r.CanvasCap < 16 {
		return fmt.Errorf("%w: render.canvas_cap must be at least 16, got %d", ErrInvalid, r.CanvasCap)
	}
	if r.ZoomMin <= 0 || r.ZoomMax < r.ZoomMin {
		return fmt.Errorf("%w: render zoom range [%g, %g]", ErrInvalid, r.ZoomMin, r.ZoomMax)
	}
	if c.Images.Timeout < 0 || c.Images.Retries < 0 || c.Images.Retries > 3 {
		return fmt.Errorf("%w: images.timeout and images.retries (0-3) must be non-negative", ErrInvalid)
	}
	switch c.Cache.Kind {
	case "", CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("%w: cache.redis.addr is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: cache.kind %q (must be none, memory or redis)", ErrInvalid, c.Cache.Kind)
	}
	switch c.Catalog.Source {
	case "", SourceFile:
	case SourcePgSQL, SourceMySQL:
		if c.Catalog.DSN == "" {
			return fmt.Errorf("%w: catalog.dsn is required for %s", ErrInvalid, c.Catalog.Source)
		}
	default:
		return fmt.Errorf("%w: catalog.source %q (must be file, pgsql or mysql)", ErrInvalid, c.Catalog.Source)
	}
	return nil
}
