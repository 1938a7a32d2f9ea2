package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PLACECAL_MATCHER_FOLDER", "preds_loftr")
	t.Setenv("PLACECAL_LOG_LEVEL", "debug")
	t.Setenv("PLACECAL_WORKERS", "4")
	t.Setenv("PLACECAL_HISTORY_TTL", "72h")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.MatcherFolder != "preds_loftr" {
		t.Errorf("MatcherFolder = %s, want preds_loftr", cfg.MatcherFolder)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Workers != 4 {
		t.Errorf("Workers = %d, want 4", cfg.Workers)
	}
	if cfg.History.TTL != 72*time.Hour {
		t.Errorf("History.TTL = %v, want 72h", cfg.History.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.GroundTruthFile != "z_data.json" {
		t.Errorf("GroundTruthFile = %s, want z_data.json", cfg.GroundTruthFile)
	}
	if cfg.MatcherFolder != "preds_superpoint-lg" {
		t.Errorf("MatcherFolder = %s, want preds_superpoint-lg", cfg.MatcherFolder)
	}
	if cfg.Histogram.Bins != 50 || cfg.Histogram.Max != 200 {
		t.Errorf("Histogram = %+v, want 50 bins over [0,200]", cfg.Histogram)
	}
	if cfg.History.Type != "none" || cfg.Bus.Type != "none" {
		t.Errorf("sinks should default to none, got history=%s bus=%s", cfg.History.Type, cfg.Bus.Type)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "placecal.yaml")

	configContent := `
matcher_folder: preds_superpoint-lg
train:
  name: svox
  log_dir: /logs/2025-12-23_21-01-31
tests:
  - name: CosPlace
    log_dir: /logs/2025-12-30_18-45-46
  - name: NetVLAD
    log_dir: /logs/2025-12-30_23-01-01
log:
  level: warn
  format: json
output:
  format: csv
  curves_dir: ./curves
history:
  type: sqlite
  path: ./history.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Train.Name != "svox" {
		t.Errorf("Train.Name = %s, want svox", cfg.Train.Name)
	}
	if len(cfg.Tests) != 2 || cfg.Tests[1].Name != "NetVLAD" {
		t.Errorf("Tests = %+v", cfg.Tests)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
	if cfg.Output.CurvesDir != "./curves" {
		t.Errorf("Output.CurvesDir = %s, want ./curves", cfg.Output.CurvesDir)
	}
	// Defaults survive partial files
	if cfg.GroundTruthFile != "z_data.json" {
		t.Errorf("GroundTruthFile = %s, want default", cfg.GroundTruthFile)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := cfg.ValidateRuns(); err != nil {
		t.Errorf("ValidateRuns() error = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "invalid log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"bad output", func(c *Config) { c.Output.Format = "html" }, "invalid output format"},
		{"bad history", func(c *Config) { c.History.Type = "postgres" }, "invalid history type"},
		{"redis without url", func(c *Config) { c.History.Type = "redis"; c.History.RedisURL = "" }, "redis_url is required"},
		{"negative ttl", func(c *Config) { c.History.TTL = -time.Minute }, "ttl cannot be negative"},
		{"kafka without brokers", func(c *Config) { c.Bus.Type = "kafka" }, "kafka_brokers is required"},
		{"ext without dot", func(c *Config) { c.VerificationExt = "json" }, "must start with a dot"},
		{"histogram range", func(c *Config) { c.Histogram.Max = 0 }, "histogram.max"},
		{"empty matcher", func(c *Config) { c.MatcherFolder = "" }, "matcher_folder is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateRuns(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	err := cfg.ValidateRuns()
	if err == nil {
		t.Fatal("ValidateRuns() should fail without runs")
	}
	if !strings.Contains(err.Error(), "train.log_dir") || !strings.Contains(err.Error(), "at least one test run") {
		t.Errorf("ValidateRuns() error = %v", err)
	}

	cfg.Train = RunConfig{LogDir: "/a"}
	cfg.Tests = []RunConfig{{Name: "x", LogDir: "/b"}, {Name: "x", LogDir: "/c"}}
	if err := cfg.ValidateRuns(); err == nil || !strings.Contains(err.Error(), "duplicate test name") {
		t.Errorf("ValidateRuns() error = %v, want duplicate name", err)
	}
}

func TestParseRun(t *testing.T) {
	tests := []struct {
		in      string
		want    RunConfig
		wantErr bool
	}{
		{"CosPlace=/logs/a", RunConfig{Name: "CosPlace", LogDir: "/logs/a"}, false},
		{" MixVPR = /logs/b ", RunConfig{Name: "MixVPR", LogDir: "/logs/b"}, false},
		{"/logs/only", RunConfig{}, true},
		{"=/logs/a", RunConfig{}, true},
		{"name=", RunConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRun(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRun(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRun(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrainName(t *testing.T) {
	cfg := &Config{}
	if cfg.TrainName() != "train" {
		t.Errorf("TrainName() = %s, want train", cfg.TrainName())
	}
	cfg.Train.Name = "svox"
	if cfg.TrainName() != "svox" {
		t.Errorf("TrainName() = %s, want svox", cfg.TrainName())
	}
}
