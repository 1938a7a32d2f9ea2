// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Artifact layout inside each run directory
	GroundTruthFile string `envconfig:"PLACECAL_GROUND_TRUTH_FILE" yaml:"ground_truth_file"`
	MatcherFolder   string `envconfig:"PLACECAL_MATCHER_FOLDER" yaml:"matcher_folder"`
	VerificationExt string `envconfig:"PLACECAL_VERIFICATION_EXT" yaml:"verification_ext"`

	// Training run the confidence model is fitted on
	Train RunConfig `yaml:"train"`

	// Test runs evaluated against the fitted model
	Tests []RunConfig `yaml:"tests"`

	// Number of test runs evaluated concurrently (1 = sequential)
	Workers int `envconfig:"PLACECAL_WORKERS" yaml:"workers"`

	// Histogram binning
	Histogram HistogramConfig `yaml:"histogram"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Output configuration
	Output OutputConfig `yaml:"output"`

	// Report history configuration
	History HistoryConfig `yaml:"history"`

	// Event bus configuration
	Bus BusConfig `yaml:"bus"`
}

// RunConfig names one evaluation run directory.
type RunConfig struct {
	Name   string `yaml:"name"`
	LogDir string `yaml:"log_dir"`
}

// HistogramConfig holds inlier histogram settings.
type HistogramConfig struct {
	Bins int     `envconfig:"PLACECAL_HISTOGRAM_BINS" yaml:"bins"`
	Min  float64 `envconfig:"PLACECAL_HISTOGRAM_MIN" yaml:"min"`
	Max  float64 `envconfig:"PLACECAL_HISTOGRAM_MAX" yaml:"max"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"PLACECAL_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"PLACECAL_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"PLACECAL_LOG_FILE" yaml:"file"`
}

// OutputConfig holds report and curve output settings.
type OutputConfig struct {
	Format          string `envconfig:"PLACECAL_OUTPUT_FORMAT" yaml:"format"`
	CurvesDir       string `envconfig:"PLACECAL_CURVES_DIR" yaml:"curves_dir"`
	MetricsTextfile string `envconfig:"PLACECAL_METRICS_TEXTFILE" yaml:"metrics_textfile"`
}

// HistoryConfig holds report history settings.
type HistoryConfig struct {
	Type     string        `envconfig:"PLACECAL_HISTORY_TYPE" yaml:"type"`
	Path     string        `envconfig:"PLACECAL_HISTORY_PATH" yaml:"path"`
	RedisURL string        `envconfig:"PLACECAL_REDIS_URL" yaml:"redis_url"`
	TTL      time.Duration `envconfig:"PLACECAL_HISTORY_TTL" yaml:"ttl"` // redis only, 0 keeps reports
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"PLACECAL_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"PLACECAL_KAFKA_BROKERS" yaml:"kafka_brokers"`
	Topic        string `envconfig:"PLACECAL_BUS_TOPIC" yaml:"topic"`
	EventLogPath string `envconfig:"PLACECAL_EVENT_LOG_PATH" yaml:"event_log_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.GroundTruthFile = "z_data.json"
	cfg.MatcherFolder = "preds_superpoint-lg"
	cfg.VerificationExt = ".json"
	cfg.Workers = 1

	cfg.Histogram = HistogramConfig{
		Bins: 50,
		Min:  0,
		Max:  200,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Output = OutputConfig{
		Format: "text",
	}

	cfg.History = HistoryConfig{
		Type:     "none",
		Path:     "placecal_history.db",
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type:  "none",
		Topic: "placecal.evaluation",
	}
}

// Validate checks the settings shared by every command.
// Run directories are checked separately by ValidateRuns.
func (c *Config) Validate() error {
	var errs []string

	if c.GroundTruthFile == "" {
		errs = append(errs, "ground_truth_file is required")
	}
	if c.MatcherFolder == "" {
		errs = append(errs, "matcher_folder is required")
	}
	if c.VerificationExt != "" && !strings.HasPrefix(c.VerificationExt, ".") {
		errs = append(errs, fmt.Sprintf("verification_ext must start with a dot: %s", c.VerificationExt))
	}

	if c.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}

	// Histogram validation
	if c.Histogram.Bins < 1 {
		errs = append(errs, "histogram.bins must be positive")
	}
	if c.Histogram.Max <= c.Histogram.Min {
		errs = append(errs, "histogram.max must be greater than histogram.min")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	// Output validation
	validOutputs := map[string]bool{"text": true, "json": true, "csv": true}
	if !validOutputs[c.Output.Format] {
		errs = append(errs, fmt.Sprintf("invalid output format: %s (must be text, json, or csv)", c.Output.Format))
	}

	// History validation
	validHistory := map[string]bool{"none": true, "sqlite": true, "redis": true}
	if !validHistory[c.History.Type] {
		errs = append(errs, fmt.Sprintf("invalid history type: %s (must be none, sqlite, or redis)", c.History.Type))
	}
	if c.History.Type == "sqlite" && c.History.Path == "" {
		errs = append(errs, "history.path is required for sqlite history")
	}
	if c.History.Type == "redis" && c.History.RedisURL == "" {
		errs = append(errs, "history.redis_url is required for redis history")
	}
	if c.History.TTL < 0 {
		errs = append(errs, "history.ttl cannot be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"none": true, "memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be none, memory, or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "bus.kafka_brokers is required for kafka bus")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateRuns checks the training and test run list used by the evaluate command.
func (c *Config) ValidateRuns() error {
	var errs []string

	if c.Train.LogDir == "" {
		errs = append(errs, "train.log_dir is required")
	}
	if len(c.Tests) == 0 {
		errs = append(errs, "at least one test run is required")
	}

	seen := make(map[string]bool, len(c.Tests))
	for i, r := range c.Tests {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("tests[%d].name is required", i))
		} else if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("duplicate test name: %s", r.Name))
		}
		seen[r.Name] = true
		if r.LogDir == "" {
			errs = append(errs, fmt.Sprintf("tests[%d].log_dir is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("run validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TrainName returns the display name of the training run.
func (c *Config) TrainName() string {
	if c.Train.Name != "" {
		return c.Train.Name
	}
	return "train"
}

// ParseRun parses a "name=dir" command line value.
func ParseRun(s string) (RunConfig, error) {
	name, dir, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(dir) == "" {
		return RunConfig{}, fmt.Errorf("invalid run %q (want name=dir)", s)
	}
	return RunConfig{Name: strings.TrimSpace(name), LogDir: strings.TrimSpace(dir)}, nil
}
