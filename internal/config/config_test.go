package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Analysis(t *testing.T) {
	content := `
analysis:
  ymax: 4096
  coloc_threshold: 0.45
  workers: 2
output:
  columns: full
`
	cfg := loadFromString(t, content)

	if cfg.Analysis.YMax != 4096 {
		t.Errorf("expected ymax 4096, got %d", cfg.Analysis.YMax)
	}
	if cfg.Analysis.ColocThreshold != 0.45 {
		t.Errorf("expected threshold 0.45, got %v", cfg.Analysis.ColocThreshold)
	}
	if cfg.Analysis.Workers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Analysis.Workers)
	}
	if cfg.Output.Columns != ColumnsFull {
		t.Errorf("expected full columns, got %q", cfg.Output.Columns)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
analysis:
  workers: 3
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Analysis.YMax != 2048 {
		t.Errorf("expected default ymax 2048, got %d", cfg.Analysis.YMax)
	}
	if cfg.Analysis.ColocThreshold != 0.3 {
		t.Errorf("expected default threshold 0.3, got %v", cfg.Analysis.ColocThreshold)
	}
	if cfg.Analysis.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Analysis.Workers)
	}
	if cfg.Cache.OverlaySizeMB != 128 {
		t.Errorf("expected default overlay cache 128, got %d", cfg.Cache.OverlaySizeMB)
	}
	if cfg.Render.Size != 1024 {
		t.Errorf("expected default render size 1024, got %d", cfg.Render.Size)
	}
}

func TestLoad_ZeroThresholdKept(t *testing.T) {
	content := `
analysis:
  coloc_threshold: 0
`
	cfg := loadFromString(t, content)

	if cfg.Analysis.ColocThreshold != 0 {
		t.Errorf("expected threshold 0, got %v", cfg.Analysis.ColocThreshold)
	}
	if cfg.Analysis.YMax != 2048 {
		t.Errorf("expected default ymax 2048, got %d", cfg.Analysis.YMax)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analysis.YMax != 2048 || cfg.Output.Columns != ColumnsSummary {
		t.Errorf("unexpected defaults: %+v", cfg.Analysis)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"negative ymax":    "analysis:\n  ymax: -5\n",
		"bad columns":      "output:\n  columns: wide\n",
		"negative workers": "analysis:\n  workers: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, content)
			if _, err := Load(path); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "analysis: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("expected YAML error")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
