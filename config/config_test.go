package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
render:
  supersample: 4
images:
  timeout: 1500ms
cache:
  kind: memory
  max_entries: 10
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Render.Supersample != 4 || cfg.Render.CanvasCap != 2400 {
		t.Fatalf("render: %+v", cfg.Render)
	}
	if cfg.Images.Timeout != 1500*time.Millisecond || cfg.Images.Retries != 1 {
		t.Fatalf("images: %+v", cfg.Images)
	}
	if cfg.Cache.Kind != CacheMemory || cfg.Cache.MaxEntries != 10 || cfg.Cache.TTL != 10*time.Minute {
		t.Fatalf("cache: %+v", cfg.Cache)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown key", "render:\n  supersampel: 2\n", ErrConfigParse},
		{"bad supersample", "render:\n  supersample: 0\n", ErrInvalid},
		{"bad zoom", "render:\n  zoom_min: 2\n  zoom_max: 1\n", ErrInvalid},
		{"redis without addr", "cache:\n  kind: redis\n", ErrInvalid},
		{"unknown cache", "cache:\n  kind: disk\n", ErrInvalid},
		{"pgsql without dsn", "catalog:\n  source: pgsql\n", ErrInvalid},
		{"too many retries", "images:\n  retries: 9\n", ErrInvalid},
	}
	for _, tc := range tests {
		if _, err := Parse([]byte(tc.doc)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestParseRejectsOversizedInput(t *testing.T) {
	big := "log:\n  level: info\n" + strings.Repeat("#", MaxInputSize)
	if _, err := Parse([]byte(big)); !errors.Is(err, ErrConfigParse) {
		t.Fatalf("got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flyer.yaml")
	if err := os.WriteFile(path, []byte("log:\n  development: true\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil || !cfg.Log.Development || cfg.Log.Level != "info" {
		t.Fatalf("load: %+v %v", cfg, err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("missing file: %v", err)
	}
}
